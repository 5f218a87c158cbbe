// ABOUTME: Clock synchronization between a client and the session server
// ABOUTME: Maintains a median-of-five offset estimate and server<->local time translation
package clocksync

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const sampleWindow = 5

// ClockSync tracks round-trip latency and clock offset against a server,
// computing the offset as the median of the last five samples rather than an
// exponential average so a single jittery ping cannot drag the estimate off
// for several seconds afterward.
type ClockSync struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	samples []sample // ring of up to sampleWindow, oldest first
	latency int64    // ms, from the most recent sample
	offset  int64    // ms, median of samples
	synced  bool
}

type sample struct {
	latencyMs int64
	offsetMs  int64
}

func New(logger *zap.Logger) *ClockSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClockSync{logger: logger}
}

// RecordRoundTrip ingests one ping/pong exchange. clientSent and clientRecv
// are local clock readings in milliseconds bracketing the round trip;
// serverTime is the server's own clock reading, in milliseconds, taken when
// it processed the ping.
func (c *ClockSync) RecordRoundTrip(clientSent, serverTime, clientRecv int64) {
	rtt := clientRecv - clientSent
	latency := rtt / 2
	offset := serverTime - clientSent - latency

	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{latencyMs: latency, offsetMs: offset})
	if len(c.samples) > sampleWindow {
		c.samples = c.samples[len(c.samples)-sampleWindow:]
	}

	c.latency = latency
	c.offset = medianOffset(c.samples)
	c.synced = true

	c.logger.Debug("clock sync sample",
		zap.Int64("rttMs", rtt),
		zap.Int64("latencyMs", latency),
		zap.Int64("sampleOffsetMs", offset),
		zap.Int64("medianOffsetMs", c.offset),
	)
}

func medianOffset(samples []sample) int64 {
	offsets := make([]int64, len(samples))
	for i, s := range samples {
		offsets[i] = s.offsetMs
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets[len(offsets)/2]
}

// Offset returns the current median clock offset in milliseconds. Positive
// means the server clock reads ahead of the local clock.
func (c *ClockSync) Offset() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.offset
}

// Latency returns the most recently observed one-way latency in milliseconds.
func (c *ClockSync) Latency() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latency
}

// Synced reports whether at least one round trip has been recorded.
func (c *ClockSync) Synced() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.synced
}

// ServerToLocal converts a server-clock instant, in epoch milliseconds, to
// the corresponding local instant.
func (c *ClockSync) ServerToLocal(serverMs int64) time.Time {
	localMs := serverMs - c.Offset()
	return time.UnixMilli(localMs)
}

// LocalToServer converts a local instant to the equivalent server-clock
// epoch milliseconds.
func (c *ClockSync) LocalToServer(t time.Time) int64 {
	return t.UnixMilli() + c.Offset()
}

// EstimateClientLatency is the server-side half of clock sync: given the
// server's current clock and a timestamp the client attached to an inbound
// message, estimate the one-way latency that message experienced. Clamped at
// zero since a negative estimate only reflects un-synced clocks, not a
// meaningful latency.
func EstimateClientLatency(serverNowMs, clientTimestampMs int64) int64 {
	latency := serverNowMs - clientTimestampMs
	if latency < 0 {
		return 0
	}
	return latency
}
