// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package pricing

import (
	"time"

	"marketpulse/calendar"
)

// StateKind is the pricing state the system is in at a given instant.
type StateKind int

const (
	StatePreMarketLive StateKind = iota
	StateLive
	StateAfterHoursLive
	StateOvernightFrozen
	StateWeekendFrozen
)

// StateAfterHoursFrozen is a naming alias; the overnight policy applies
// identically between the extended-hours close and the next pre-market open.
const StateAfterHoursFrozen = StateOvernightFrozen

func (k StateKind) String() string {
	switch k {
	case StatePreMarketLive:
		return "pre-market-live"
	case StateLive:
		return "live"
	case StateAfterHoursLive:
		return "after-hours-live"
	case StateWeekendFrozen:
		return "weekend-frozen"
	default:
		return "overnight-frozen"
	}
}

// ReferenceKind selects the percent-change denominator.
type ReferenceKind int

const (
	RefNone ReferenceKind = iota
	RefPreviousClose
	RefRegularClose
)

func (r ReferenceKind) String() string {
	switch r {
	case RefPreviousClose:
		return "previousClose"
	case RefRegularClose:
		return "regularClose"
	default:
		return "none"
	}
}

// State carries the ingest policy for a pricing state. CanIngest gates
// whether new provider data may be requested at all, CanOverwrite gates
// whether an ingestion result may replace a stored price, and UseFrozen
// demands that the last known-good price is served instead of fresh data.
// The three are separate so the resolver and the overwrite guard can share
// one session-to-policy mapping.
type State struct {
	Kind         StateKind
	CanIngest    bool
	CanOverwrite bool
	UseFrozen    bool
	Reference    ReferenceKind
}

// Session returns the market session a state corresponds to. Frozen states
// map to the closed session.
func (st State) Session() calendar.Session {
	switch st.Kind {
	case StatePreMarketLive:
		return calendar.SessionPreMarket
	case StateLive:
		return calendar.SessionLive
	case StateAfterHoursLive:
		return calendar.SessionAfterHours
	default:
		return calendar.SessionClosed
	}
}

// StateFor maps an instant to its pricing state. Pure function of the
// arguments, recomputed on every call; never cache a State across instants.
func StateFor(cal calendar.MarketCalendar, t time.Time) State {
	if cal.IsWeekend(t) || cal.IsHoliday(t) {
		return State{Kind: StateWeekendFrozen, UseFrozen: true, Reference: RefRegularClose}
	}
	switch cal.DetectSession(t) {
	case calendar.SessionPreMarket:
		return State{Kind: StatePreMarketLive, CanIngest: true, CanOverwrite: true, Reference: RefPreviousClose}
	case calendar.SessionLive:
		return State{Kind: StateLive, CanIngest: true, CanOverwrite: true, Reference: RefPreviousClose}
	case calendar.SessionAfterHours:
		return State{Kind: StateAfterHoursLive, CanIngest: true, CanOverwrite: true, Reference: RefRegularClose}
	default:
		return State{Kind: StateOvernightFrozen, UseFrozen: true, Reference: RefRegularClose}
	}
}
