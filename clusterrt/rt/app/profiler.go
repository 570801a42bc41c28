package app

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Profiler keeps CPU timings of the light passes and per-frame counters.
type Profiler struct {
	Scopes     map[string]time.Duration
	StartTimes map[string]time.Time
	Counts     map[string]int
	Order      []string

	now func() time.Time
}

func NewProfiler() *Profiler {
	return &Profiler{
		Scopes:     make(map[string]time.Duration),
		StartTimes: make(map[string]time.Time),
		Counts:     make(map[string]int),
		now:        time.Now,
	}
}

func (p *Profiler) BeginScope(name string) {
	p.StartTimes[name] = p.now()
	p.track(name)
}

// First use fixes the display order.
func (p *Profiler) track(name string) {
	if _, seen := p.Scopes[name]; !seen {
		p.Order = append(p.Order, name)
		p.Scopes[name] = 0
	}
}

func (p *Profiler) EndScope(name string) {
	if start, ok := p.StartTimes[name]; ok {
		p.Scopes[name] = p.now().Sub(start)
		delete(p.StartTimes, name)
	}
}

// Scope begins name and returns the matching end, for use with defer.
func (p *Profiler) Scope(name string) func() {
	p.BeginScope(name)
	return func() { p.EndScope(name) }
}

// Record stores a duration measured outside the profiler.
func (p *Profiler) Record(name string, d time.Duration) {
	p.track(name)
	p.Scopes[name] = d
}

func (p *Profiler) SetCount(name string, count int) {
	p.Counts[name] = count
}

// Reset zeroes the timings of the previous frame and keeps the order.
func (p *Profiler) Reset() {
	for k := range p.Scopes {
		p.Scopes[k] = 0
	}
}

// Milliseconds returns every scope timing in milliseconds.
func (p *Profiler) Milliseconds() map[string]float64 {
	out := make(map[string]float64, len(p.Scopes))
	for name, d := range p.Scopes {
		out[name] = float64(d.Microseconds()) / 1000.0
	}
	return out
}

func (p *Profiler) GetStatsString() string {
	var sb strings.Builder

	sb.WriteString("Light passes (CPU):\n")
	for _, name := range p.Order {
		ms := float64(p.Scopes[name].Microseconds()) / 1000.0
		sb.WriteString(fmt.Sprintf("  %-15s: %.2f ms\n", name, ms))
	}

	sb.WriteString("\nCounters:\n")
	keys := make([]string, 0, len(p.Counts))
	for k := range p.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("  %-15s: %d\n", k, p.Counts[k]))
	}
	return sb.String()
}
