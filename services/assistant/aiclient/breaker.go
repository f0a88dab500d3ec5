// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package aiclient

import (
	"errors"
	"sync"
	"time"
)

// ErrUpstreamUnavailable is returned while the breaker is open: the
// upstream failed repeatedly and calls are rejected until the cooldown
// elapses.
var ErrUpstreamUnavailable = errors.New("ai service unavailable, breaker open")

const (
	breakerClosed = iota
	breakerOpen
	breakerHalfOpen
)

// breaker trips after a run of consecutive upstream failures so a dead AI
// service sheds load fast instead of making every clinician wait out the
// full HTTP timeout. After the cooldown one probe call is let through; its
// outcome closes or re-opens the circuit.
type breaker struct {
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    int
	failures int
	openedAt time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < b.cooldown {
			return ErrUpstreamUnavailable
		}
		b.state = breakerHalfOpen
		return nil
	case breakerHalfOpen:
		// One probe at a time.
		return ErrUpstreamUnavailable
	default:
		return nil
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = breakerClosed
	b.failures = 0
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == breakerHalfOpen {
		b.trip()
		return
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip()
	}
}

func (b *breaker) trip() {
	b.state = breakerOpen
	b.failures = 0
	b.openedAt = time.Now()
}
