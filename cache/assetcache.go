// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package cache

import (
	"context"
	"marketpulse/stockval"
)

// AssetCache keeps the provider's ticker list between runs. The list is
// large and changes rarely, so re-requesting it on every start would burn
// through the API budget for nothing.
type AssetCache interface {
	GetAssetList(ctx context.Context, load func(ctx context.Context) ([]stockval.AssetData, error)) AssetList
}
