// Package sample accumulates per-channel measurement series for one run.
package sample

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// ErrNoData is returned by Statistics for a channel with no samples.
var ErrNoData = errors.New("no data")

// Kind is a measured quantity.
type Kind int

const (
	Voltage Kind = iota
	Current
)

func (k Kind) String() string {
	switch k {
	case Voltage:
		return "Voltage"
	case Current:
		return "Current"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Unit returns the SI unit symbol of k.
func (k Kind) Unit() string {
	if k == Current {
		return "A"
	}
	return "V"
}

// Stats summarises one channel's series.
type Stats struct {
	Min, Max, Avg float64
	Count         int
}

// Report describes how one response was recorded.
type Report struct {
	Recorded int
	// Missing lists channels with no value because the response was short.
	Missing []string
	// Invalid maps channels to tokens that did not parse as numbers.
	Invalid map[string]string
}

// Short reports whether the response had fewer values than channels.
func (r Report) Short() bool { return len(r.Missing) > 0 }

// Clean reports whether every channel got a value.
func (r Report) Clean() bool { return !r.Short() && len(r.Invalid) == 0 }

// Collector holds per-kind, per-channel series indexed by sample number, so
// a channel that misses a sample keeps a gap instead of shifting its later
// values. It is safe for concurrent use so a UI can read while the run
// writes.
type Collector struct {
	mu       sync.RWMutex
	channels []string
	// series[kind][channel][n-1] is sample n; NaN marks a missing value.
	series map[Kind]map[string][]float64
	rows   map[Kind]int
}

// NewCollector returns a collector for the ordered channel list.
func NewCollector(channels []string) *Collector {
	c := &Collector{
		channels: append([]string(nil), channels...),
		series:   make(map[Kind]map[string][]float64, 2),
		rows:     make(map[Kind]int, 2),
	}
	for _, k := range []Kind{Voltage, Current} {
		c.series[k] = make(map[string][]float64, len(channels))
	}
	return c
}

// Channels returns the ordered channel list.
func (c *Collector) Channels() []string {
	return append([]string(nil), c.channels...)
}

// Record parses raw and stores it as sample n (1-based) of the channel. It
// returns false, leaving the series untouched, when raw is not a number.
func (c *Collector) Record(kind Kind, n int, channel, raw string) bool {
	if n < 1 {
		return false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.series[kind][channel]
	for len(s) < n {
		s = append(s, math.NaN())
	}
	s[n-1] = v
	c.series[kind][channel] = s
	c.markLocked(kind, n)
	return true
}

// Mark records that sample n of kind was taken even if no channel got a
// value, so exports keep its row.
func (c *Collector) Mark(kind Kind, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(kind, n)
}

func (c *Collector) markLocked(kind Kind, n int) {
	if n > c.rows[kind] {
		c.rows[kind] = n
	}
}

// RecordResponse zips a comma-separated group response against the channel
// list and stores it as sample n. Values beyond the channel count are
// ignored.
func (c *Collector) RecordResponse(kind Kind, n int, response string) Report {
	tokens := strings.Split(strings.TrimSpace(response), ",")
	if strings.TrimSpace(response) == "" {
		tokens = nil
	}

	c.Mark(kind, n)
	var rep Report
	for i, ch := range c.channels {
		if i >= len(tokens) {
			rep.Missing = append(rep.Missing, ch)
			continue
		}
		if !c.Record(kind, n, ch, tokens[i]) {
			if rep.Invalid == nil {
				rep.Invalid = make(map[string]string)
			}
			rep.Invalid[ch] = tokens[i]
			continue
		}
		rep.Recorded++
	}
	return rep
}

// Statistics returns min, max and mean for a channel, or ErrNoData.
func (c *Collector) Statistics(kind Kind, channel string) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return stats(present(c.series[kind][channel]))
}

// Series returns a copy of a channel's recorded values, gaps removed.
func (c *Collector) Series(kind Kind, channel string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return present(c.series[kind][channel])
}

// Column returns the channel's values indexed by sample number, Rows(kind)
// long, with NaN where the channel has no value.
func (c *Collector) Column(kind Kind, channel string) []float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]float64, c.rows[kind])
	for i := range out {
		out[i] = math.NaN()
	}
	copy(out, c.series[kind][channel])
	return out
}

// Rows returns the highest sample number taken for kind.
func (c *Collector) Rows(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rows[kind]
}

// Len returns the number of values recorded for a channel.
func (c *Collector) Len(kind Kind, channel string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(present(c.series[kind][channel]))
}

// MaxLen returns the most values recorded by any channel of kind.
func (c *Collector) MaxLen(kind Kind) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, s := range c.series[kind] {
		if l := len(present(s)); l > n {
			n = l
		}
	}
	return n
}

// Empty reports whether nothing has been recorded.
func (c *Collector) Empty() bool {
	return c.MaxLen(Voltage) == 0 && c.MaxLen(Current) == 0
}

// ChannelSnapshot is the latest value and statistics of one channel.
type ChannelSnapshot struct {
	Channel string
	Voltage Latest
	Current Latest
}

// Latest is the last sample and running statistics of one series.
type Latest struct {
	Value float64
	Stats Stats
	OK    bool
}

// Snapshot copies the current state of every channel, in channel order.
func (c *Collector) Snapshot() []ChannelSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ChannelSnapshot, 0, len(c.channels))
	for _, ch := range c.channels {
		out = append(out, ChannelSnapshot{
			Channel: ch,
			Voltage: latest(c.series[Voltage][ch]),
			Current: latest(c.series[Current][ch]),
		})
	}
	return out
}

func present(s []float64) []float64 {
	out := make([]float64, 0, len(s))
	for _, v := range s {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out
}

func latest(s []float64) Latest {
	vals := present(s)
	st, err := stats(vals)
	if err != nil {
		return Latest{}
	}
	return Latest{Value: vals[len(vals)-1], Stats: st, OK: true}
}

// stats expects s without gaps.
func stats(s []float64) (Stats, error) {
	if len(s) == 0 {
		return Stats{}, ErrNoData
	}
	st := Stats{Min: s[0], Max: s[0], Count: len(s)}
	var sum float64
	for _, v := range s {
		st.Min = math.Min(st.Min, v)
		st.Max = math.Max(st.Max, v)
		sum += v
	}
	st.Avg = sum / float64(len(s))
	return st, nil
}
