// Package throttle implements the supplemental per-IP processor-instantiation
// gate described in original_source's SProcessorThrottling (dropped from the
// spec.md distillation, reinstated per SPEC_FULL.md's domain stack). It sits
// in front of (not instead of) the concurrency cap: a class may be under its
// concurrency limit and still be throttled for a specific client IP.
package throttle

import (
	"time"

	"github.com/joeycumines/go-catrate"
)

// Limiter throttles processor instantiation per client IP, using a sliding
// window of rates (e.g. {time.Second: 5, time.Minute: 60}).
type Limiter struct {
	rates map[time.Duration]int
	inner *catrate.Limiter
}

// New builds a Limiter for the given per-window event counts. A nil or empty
// rates map disables throttling (Allow always returns true), matching
// original_source's "threshold == 0 switches throttling off".
func New(rates map[time.Duration]int) *Limiter {
	if len(rates) == 0 {
		return &Limiter{}
	}
	return &Limiter{rates: rates, inner: catrate.NewLimiter(rates)}
}

// Allow reports whether another processor instance may be created for
// clientIP right now. It is independent of, and checked in addition to, the
// per-class concurrency cap.
func (l *Limiter) Allow(clientIP string) bool {
	if l == nil || l.inner == nil || clientIP == "" {
		return true
	}
	_, ok := l.inner.Allow(clientIP)
	return ok
}
