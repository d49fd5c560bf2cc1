// Package testutil holds helpers shared by package tests.
package testutil

import (
	"time"

	"github.com/benbjohnson/clock"
)

// StepClock is a mock clock whose sleeps and timers complete at once by
// advancing mock time. Loops driven by it run at full speed while every
// elapsed-time comparison stays deterministic.
type StepClock struct {
	*clock.Mock
}

// NewStepClock returns a StepClock starting at the Unix epoch.
func NewStepClock() StepClock {
	return StepClock{Mock: clock.NewMock()}
}

// After advances mock time by d and returns an already-fired channel.
func (c StepClock) After(d time.Duration) <-chan time.Time {
	c.Mock.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.Mock.Now()
	return ch
}

// Sleep advances mock time by d.
func (c StepClock) Sleep(d time.Duration) {
	c.Mock.Add(d)
}

// Elapsed returns how far mock time has moved since start.
func (c StepClock) Elapsed(start time.Time) time.Duration {
	return c.Mock.Now().Sub(start)
}
