// SPDX-License-Identifier: AGPL-3.0-or-later
// Copyright (c) Lothar May

package webclient

import (
	"context"
	"math"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterUnlimited(t *testing.T) {
	l := NewRateLimiter()
	assert.Equal(t, math.MaxInt, l.Remaining())
	assert.NoError(t, l.Wait(context.Background()))
}

func TestManualRateLimiterCountsDown(t *testing.T) {
	l := NewManualRateLimiter(time.Minute, 3)
	assert.Equal(t, 3, l.Remaining())
	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Wait(context.Background()))
		l.HandleManualTimer()
	}
	assert.Equal(t, 0, l.Remaining())
}

func TestManualRateLimiterBlocksUntilCancel(t *testing.T) {
	l := NewManualRateLimiter(time.Hour, 1)
	assert.NoError(t, l.Wait(context.Background()))
	l.HandleManualTimer()

	ctx, cancel := context.WithTimeout(context.Background(), MinWaitTime*2)
	defer cancel()
	err := l.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHandleResponseHeadersInitializesFromHeaders(t *testing.T) {
	l := NewRateLimiter()
	resp := &http.Response{StatusCode: http.StatusOK, Header: http.Header{}}
	resp.Header.Set("X-RateLimit-Limit", "5")
	retry, err := l.HandleResponseHeadersWithWait(context.Background(), resp)
	assert.NoError(t, err)
	assert.False(t, retry)
	assert.Equal(t, 4, l.Remaining())
}

func TestHandleResponseHeadersTooManyRequests(t *testing.T) {
	l := NewManualRateLimiter(time.Minute, 5)
	resp := &http.Response{StatusCode: http.StatusTooManyRequests, Header: http.Header{}}
	retry, err := l.HandleResponseHeadersWithWait(context.Background(), resp)
	assert.NoError(t, err)
	assert.True(t, retry)
}
