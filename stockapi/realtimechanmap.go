// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package stockapi

import (
	"fmt"
	"sync"

	"github.com/zhangyunhao116/skipmap"
)

// RealtimeChanMap distributes realtime provider data to per-symbol
// subscriber channels. Lock-free reads on the hot path; channel closing is
// deferred through a pending list to avoid racing concurrent senders.
type RealtimeChanMap[T any] struct {
	sm                    *skipmap.StringMap[chan T]
	pendingCloseList      []chan T
	pendingCloseListMutex *sync.Mutex
}

func NewRealtimeChanMap[T any]() *RealtimeChanMap[T] {
	return &RealtimeChanMap[T]{
		sm:                    skipmap.NewString[chan T](),
		pendingCloseListMutex: new(sync.Mutex),
	}
}

func (m *RealtimeChanMap[T]) AddPendingClose(c chan T) {
	m.pendingCloseListMutex.Lock()
	m.pendingCloseList = append(m.pendingCloseList, c)
	m.pendingCloseListMutex.Unlock()
}

func (m *RealtimeChanMap[T]) ClearPendingClose() {
	m.pendingCloseListMutex.Lock()
	for _, c := range m.pendingCloseList {
		close(c)
	}
	m.pendingCloseList = nil
	m.pendingCloseListMutex.Unlock()
}

func (m *RealtimeChanMap[T]) Clear() {
	m.sm.Range(
		func(k string, c chan T) bool {
			close(c)
			return true
		},
	)
	m.sm = skipmap.NewString[chan T]()
}

// Subscribe registers a buffered channel for a symbol. The buffer is
// required so that old entries can be dropped when a consumer falls behind;
// new realtime data always matters more than old data.
func (m *RealtimeChanMap[T]) Subscribe(symbol string) (chan T, error) {
	c := make(chan T, 1024)
	var err error
	_, exists := m.sm.LoadOrStore(symbol, c)
	if exists {
		err = fmt.Errorf("already subscribed to %s", symbol)
		c = nil
	}
	return c, err
}

func (m *RealtimeChanMap[T]) Unsubscribe(symbol string) error {
	var err error
	if c, exists := m.sm.LoadAndDelete(symbol); exists {
		// closing here could race a concurrent sender, defer it instead
		m.AddPendingClose(c)
	} else {
		err = fmt.Errorf("cannot unsubscribe %s: not subscribed", symbol)
	}
	return err
}

func (m *RealtimeChanMap[T]) AddNewData(symbol string, data T) error {
	c, exists := m.sm.Load(symbol)
	var err error
	if exists {
		select {
		case c <- data:
		// usually a full channel would drop the new entry, but new data is
		// much more important here, so old data is removed instead.
		default:
			select {
			// try to remove first entry, non-blocking
			case <-c:
				// try again to push the new entry, non-blocking
				select {
				case c <- data:
					err = fmt.Errorf("symbol %s: buffer overflow, old realtime data is being removed", symbol)
				default:
					err = fmt.Errorf("symbol %s: buffer overflow, new realtime data is being dropped", symbol)
				}
			default:
				err = fmt.Errorf("symbol %s: buffer cannot be read from or written to", symbol)
			}
		}
	}
	// silently ignore if entry does not exist, as this may happen while unsubscribing
	return err
}
