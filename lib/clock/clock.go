// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time source used to stamp node
// modification times. Production code injects Real(); tests inject
// Fake() and advance it deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Every production function that
// would call time.Now should take a Clock instead so tests can control
// timestamps.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns a Clock backed by the system time.
func Real() Clock { return realClock{} }

// FakeClock is a manually-advanced Clock for tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// Fake returns a FakeClock frozen at the given instant.
func Fake(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

// Now returns the fake's current instant.
func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d.
func (f *FakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set jumps the fake clock to the given instant.
func (f *FakeClock) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}
