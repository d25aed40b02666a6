// Package listen converts raw playback events into a defensible
// "actually heard" duration. Raw currentTime cannot be trusted (scrubbing to
// the end would credit the whole track) and timeupdate deltas alone break
// under background-tab throttling, so the accumulator combines tick-based
// delta accounting with a jump-size cutoff and an interval poll fallback.
package listen

import (
	"context"
	"sync"
	"time"

	"playsync/internal/models"
)

const (
	// jumpCutoff is the largest tick delta still counted as forward
	// playback; anything bigger (or backwards) is a seek.
	jumpCutoff = 60.0
	// seekGapMax bounds the pre-seek gap credited on a seeked event.
	seekGapMax = 3.0
	// reportThreshold is the played fraction at which the one-shot listen
	// report fires.
	reportThreshold = 0.10
	// PollInterval is the fallback tick cadence used when native tick
	// delivery is throttled.
	PollInterval = 2 * time.Second
)

// Reporter receives the one-shot threshold report for a track. Delivery is
// fire-and-forget; implementations must not block the caller on network.
type Reporter interface {
	Report(ctx context.Context, trackID string, report models.ListenReport)
}

// Accumulator tracks listened duration for one track instance at a time.
type Accumulator struct {
	mu       sync.Mutex
	reporter Reporter
	flush    func(trackID string, played, lastPlayTime float64)

	trackID  string
	src      string
	duration float64

	total        float64
	lastPlayTime float64
	startTime    float64
	started      bool
	playing      bool
	reported     bool
}

type Option func(*Accumulator)

// WithFlush installs a hook invoked on pause with the current accumulated
// state, since the interval poll stops firing while paused.
func WithFlush(fn func(trackID string, played, lastPlayTime float64)) Option {
	return func(a *Accumulator) { a.flush = fn }
}

func New(reporter Reporter, opts ...Option) *Accumulator {
	a := &Accumulator{reporter: reporter}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetTrack switches the accumulator to a new track instance. If the identity
// (id or src) actually changed, accumulated duration and the reported flag
// are reset; re-asserting the same track is a no-op.
func (a *Accumulator) SetTrack(trackID, src string, duration float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.trackID == trackID && a.src == src {
		if duration > 0 {
			a.duration = duration
		}
		return
	}
	a.trackID = trackID
	a.src = src
	a.duration = duration
	a.total = 0
	a.lastPlayTime = 0
	a.startTime = 0
	a.started = false
	a.reported = false
}

// OnPlay records that playback started (or resumed) at the given position.
func (a *Accumulator) OnPlay(currentTime float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playing = true
	if !a.started {
		a.started = true
		a.startTime = currentTime
	}
	a.lastPlayTime = currentTime
}

// OnTick processes a playback position observation, from either the native
// tick stream or the interval poll. Small forward deltas are credited; zero,
// negative, or oversized deltas are treated as seeks and only move the
// measurement origin.
func (a *Accumulator) OnTick(ctx context.Context, currentTime float64) {
	a.mu.Lock()
	if !a.started {
		a.started = true
		a.startTime = currentTime
	}
	if a.playing {
		diff := currentTime - a.lastPlayTime
		if diff > 0 && diff < jumpCutoff {
			a.total += diff
		}
	}
	a.lastPlayTime = currentTime
	report, trackID, payload := a.thresholdLocked(currentTime)
	a.mu.Unlock()

	if report {
		a.reporter.Report(ctx, trackID, payload)
	}
}

// OnPause flushes accumulated state immediately; the poll stops while paused
// and a later crash would otherwise lose the pending delta.
func (a *Accumulator) OnPause(ctx context.Context, currentTime float64) {
	a.OnTick(ctx, currentTime)

	a.mu.Lock()
	a.playing = false
	flush := a.flush
	trackID, total, last := a.trackID, a.total, a.lastPlayTime
	a.mu.Unlock()

	if flush != nil {
		flush(trackID, total, last)
	}
}

// OnSeeked handles a completed seek. If playback was active, the fraction of
// listening between the last credited position and the pre-seek position is
// recovered (bounded to seekGapMax) before the measurement origin jumps to
// the new position.
func (a *Accumulator) OnSeeked(ctx context.Context, from, to float64) {
	a.mu.Lock()
	if a.playing {
		gap := from - a.lastPlayTime
		if gap < 0 {
			gap = 0
		}
		if gap > seekGapMax {
			gap = seekGapMax
		}
		a.total += gap
	}
	a.lastPlayTime = to
	report, trackID, payload := a.thresholdLocked(to)
	a.mu.Unlock()

	if report {
		a.reporter.Report(ctx, trackID, payload)
	}
}

// StartPolling runs the fallback tick loop until ctx is cancelled. pos
// returns the current playback position; ok=false skips the tick (nothing
// granted or position unknown).
func (a *Accumulator) StartPolling(ctx context.Context, pos func() (float64, bool)) {
	go func() {
		ticker := time.NewTicker(PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if current, ok := pos(); ok {
					a.OnTick(ctx, current)
				}
			}
		}
	}()
}

// Total returns the accumulated played duration for the current track
// instance. It never decreases until the track identity changes.
func (a *Accumulator) Total() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.total
}

// Reported reports whether the threshold report already fired for the
// current track instance.
func (a *Accumulator) Reported() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reported
}

func (a *Accumulator) thresholdLocked(currentTime float64) (bool, string, models.ListenReport) {
	if a.reported || a.duration <= 0 || a.total/a.duration < reportThreshold {
		return false, "", models.ListenReport{}
	}
	a.reported = true
	return true, a.trackID, models.ListenReport{
		Progress:       currentTime,
		Duration:       a.duration,
		StartTime:      a.startTime,
		PlayedDuration: a.total,
	}
}
