// Package vad turns a stream of PCM audio frames into discrete speech
// start/end events and a continuous level signal. Detection is energy
// based: a frame counts as voiced when its normalized RMS level crosses a
// sensitivity-derived threshold, with debounce and hang-over timing so
// transient spikes and mid-sentence pauses do not flap the speaking state.
//
// Level events are lossy under consumer backpressure. Start and end events
// are not: emission waits for buffer space, so every delivered start gets
// its matching end.
package vad

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/media"
)

// Event is emitted by Detector.Events().
type Event interface {
	vadEventType() string
}

// LevelEvent reports the normalized audio level of one frame. It fires for
// every frame regardless of speaking state and may be dropped if the
// consumer falls behind.
type LevelEvent struct {
	Level    float64
	Speaking bool
}

func (e LevelEvent) vadEventType() string { return "level" }

// SpeechStartEvent marks the beginning of a speech segment. Unlike level
// events it is never dropped; a slow consumer stalls the frame loop instead.
type SpeechStartEvent struct {
	Level float64
}

func (e SpeechStartEvent) vadEventType() string { return "speech_start" }

// SpeechEndEvent marks the end of a speech segment. Duration covers the
// voiced portion including the closing silence window. Never dropped.
type SpeechEndEvent struct {
	Duration time.Duration
}

func (e SpeechEndEvent) vadEventType() string { return "speech_end" }

// Config tunes the detector.
type Config struct {
	// Sensitivity in [0,1] scales the detection threshold: higher values
	// demand louder audio before speech is declared. Default: 0.25.
	Sensitivity float64

	// MinSpeechDuration is how long the level must stay above threshold
	// before a segment starts. Debounces transient noise. Default: 300ms.
	MinSpeechDuration time.Duration

	// SilenceDuration is how long the level must stay below threshold
	// before a segment ends. Rides over brief pauses. Default: 1s.
	SilenceDuration time.Duration
}

// DefaultConfig returns the detector defaults.
func DefaultConfig() Config {
	return Config{
		Sensitivity:       0.25,
		MinSpeechDuration: 300 * time.Millisecond,
		SilenceDuration:   time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.Sensitivity <= 0 {
		c.Sensitivity = 0.25
	}
	if c.MinSpeechDuration <= 0 {
		c.MinSpeechDuration = 300 * time.Millisecond
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = time.Second
	}
	return c
}

// fullScale is the maximum normalized level; RMSLevel never exceeds it.
const fullScale = 1.0

const eventBuffer = 64

// Detector consumes audio frames and emits speech events. One detector
// serves one stream; Start may be called once.
type Detector struct {
	cfg    Config
	logger *slog.Logger

	mu          sync.Mutex
	sensitivity float64
	suppressed  bool
	speaking    bool
	started     bool
	above       time.Duration
	below       time.Duration
	segment     time.Duration

	// segmentOpen tracks whether a SpeechStartEvent reached the channel
	// without its matching end yet. Owned by the run goroutine.
	segmentOpen bool

	events chan Event
	done   chan struct{}
	stop   sync.Once
}

// New builds a detector. A nil logger falls back to slog.Default().
func New(cfg Config, logger *slog.Logger) *Detector {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Detector{
		cfg:         cfg,
		logger:      logger,
		sensitivity: cfg.Sensitivity,
		events:      make(chan Event, eventBuffer),
		done:        make(chan struct{}),
	}
}

// Events returns the detector's event channel. Callers must drain it until
// it closes, which happens after the detector stops, once any forced closing
// SpeechEndEvent has been sent.
func (d *Detector) Events() <-chan Event { return d.events }

// Speaking reports whether a speech segment is currently open.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// SetSensitivity adjusts the detection threshold. Values are clamped
// to [0,1]. Safe to call while running.
func (d *Detector) SetSensitivity(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	d.mu.Lock()
	d.sensitivity = v
	d.mu.Unlock()
}

// SetSuppressed halves the detection threshold while on, so a human
// interjecting over AI speech is picked up sooner.
func (d *Detector) SetSuppressed(on bool) {
	d.mu.Lock()
	d.suppressed = on
	d.mu.Unlock()
}

// Suppressed reports whether suppression is currently on.
func (d *Detector) Suppressed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suppressed
}

// Start begins consuming frames. The detector stops when ctx is done,
// Stop is called, or the frame channel closes.
func (d *Detector) Start(ctx context.Context, frames <-chan media.Frame) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return core.NewInternalError("detector already started", nil)
	}
	d.started = true
	d.mu.Unlock()

	go d.run(ctx, frames)
	return nil
}

// Stop halts the detector. If a speech segment is open, a SpeechEndEvent
// is forced out before the event channel closes, so downstream state never
// sticks in "speaking". Idempotent.
func (d *Detector) Stop() {
	d.stop.Do(func() { close(d.done) })
}

func (d *Detector) run(ctx context.Context, frames <-chan media.Frame) {
	defer func() { d.finish(ctx) }()
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case f, ok := <-frames:
			if !ok {
				return
			}
			d.process(ctx, f)
		}
	}
}

// process scores one frame and updates segment timing. Timing accumulates
// audio time from frame durations, not wall clock, so detection is
// deterministic for a given input.
func (d *Detector) process(ctx context.Context, f media.Frame) {
	level := media.RMSLevel(f.PCM)
	dur := f.Duration
	if dur <= 0 {
		dur = media.DefaultFrameDuration
	}

	d.mu.Lock()
	threshold := d.sensitivity * fullScale
	if d.suppressed {
		threshold /= 2
	}

	var started, ended bool
	if level >= threshold && threshold > 0 {
		d.above += dur
		d.below = 0
		if d.speaking {
			d.segment += dur
		} else if d.above >= d.cfg.MinSpeechDuration {
			d.speaking = true
			d.segment = d.above
			started = true
		}
	} else {
		d.above = 0
		if d.speaking {
			d.below += dur
			d.segment += dur
			if d.below >= d.cfg.SilenceDuration {
				d.speaking = false
				ended = true
			}
		}
	}
	speaking := d.speaking
	segment := d.segment
	d.mu.Unlock()

	d.emitLevel(LevelEvent{Level: level, Speaking: speaking})
	if started {
		if d.emitSegment(ctx, SpeechStartEvent{Level: level}) {
			d.segmentOpen = true
		}
	}
	if ended {
		if d.emitSegment(ctx, SpeechEndEvent{Duration: segment}) {
			d.segmentOpen = false
		}
	}
}

// finish settles an open segment and shuts the event channel. A segment
// whose start was delivered always gets its end out first; the send only
// gives up when the context is already gone.
func (d *Detector) finish(ctx context.Context) {
	d.Stop()

	d.mu.Lock()
	segment := d.segment
	d.speaking = false
	d.above = 0
	d.below = 0
	d.mu.Unlock()

	if d.segmentOpen {
		e := SpeechEndEvent{Duration: segment}
		select {
		case d.events <- e:
		default:
			select {
			case d.events <- e:
			case <-ctx.Done():
				d.logger.Debug("vad closing event dropped", "type", e.vadEventType())
			}
		}
		d.segmentOpen = false
	}
	close(d.events)
}

// emitLevel is lossy: level events fire per frame and a behind consumer
// just misses some.
func (d *Detector) emitLevel(e LevelEvent) {
	select {
	case d.events <- e:
	default:
		d.logger.Debug("vad event dropped", "type", e.vadEventType())
	}
}

// emitSegment delivers a start or end event, waiting for buffer space when
// the consumer is behind. Reports whether the event reached the channel;
// it does not once the detector is stopping with nobody left to drain, and
// finish reconciles the segment state afterwards.
func (d *Detector) emitSegment(ctx context.Context, e Event) bool {
	select {
	case d.events <- e:
		return true
	default:
	}
	select {
	case d.events <- e:
		return true
	case <-ctx.Done():
	case <-d.done:
	}
	d.logger.Debug("vad event dropped", "type", e.vadEventType())
	return false
}
