// Package media provides local audio acquisition for meeting clients: a
// Provider yields a Stream whose PCM frames feed voice activity detection
// while its WebRTC track is handed to peer connections. Audio is carried as
// little-endian 16-bit PCM; outbound tracks are encoded to G.711 µ-law.
package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
)

// Constraints specifies the audio capture format. The processing flags are
// advisory: providers that cannot honor them ignore them.
type Constraints struct {
	// SampleRate in Hz. Default: 16000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo. Tracks require mono.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`

	// EchoCancellation requests acoustic echo cancellation.
	EchoCancellation bool `json:"echo_cancellation"`

	// NoiseSuppression requests background noise suppression.
	NoiseSuppression bool `json:"noise_suppression"`

	// AutoGainControl requests automatic input gain.
	AutoGainControl bool `json:"auto_gain_control"`
}

// DefaultConstraints returns the standard capture configuration.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		BitsPerSample:    16,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Validate checks that the constraints describe a usable PCM format.
func (c Constraints) Validate() error {
	if c.SampleRate <= 0 {
		return core.NewConfigError("sample rate must be positive", "sample_rate")
	}
	if c.Channels != 1 && c.Channels != 2 {
		return core.NewConfigError("channels must be 1 or 2", "channels")
	}
	if c.BitsPerSample != 16 {
		return core.NewConfigError("only 16-bit PCM is supported", "bits_per_sample")
	}
	return nil
}

// BytesPerSecond returns the audio byte rate.
func (c Constraints) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the play time of the given byte count.
func (c Constraints) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesForDuration returns the byte count covering the given duration,
// rounded down to a whole sample.
func (c Constraints) BytesForDuration(d time.Duration) int {
	n := int(int64(c.BytesPerSecond()) * int64(d) / int64(time.Second))
	align := c.Channels * (c.BitsPerSample / 8)
	if align > 0 {
		n -= n % align
	}
	return n
}

// Frame is one chunk of captured audio.
type Frame struct {
	// PCM holds little-endian 16-bit samples.
	PCM []byte

	// Duration is the play time of PCM at the stream's sample rate.
	Duration time.Duration
}

// ErrStreamClosed is returned by Push after the stream is closed.
var ErrStreamClosed = core.NewMediaError("stream closed", nil)

// frameBuffer bounds how far the frame consumer may fall behind before
// frames are dropped.
const frameBuffer = 32

// Stream is live audio on loan to the rest of the client: Frames feeds the
// voice activity detector, Track feeds peer connections. Both carry the same
// audio. A Stream is produced by a Provider (or NewStream in tests) and
// stays open until Close.
type Stream struct {
	cfg   Constraints
	enc   Encoder
	track *webrtc.TrackLocalStaticSample

	mu          sync.Mutex
	closed      bool
	framesEnded bool
	frames      chan Frame
	done        chan struct{}

	dropped atomic.Int64
}

// NewStream builds a stream in the given format. When enc is non-nil the
// stream also carries a sendable WebRTC track encoded through it.
func NewStream(cfg Constraints, enc Encoder) (*Stream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Stream{
		cfg:    cfg,
		enc:    enc,
		frames: make(chan Frame, frameBuffer),
		done:   make(chan struct{}),
	}
	if enc != nil {
		if cfg.Channels != 1 {
			return nil, core.NewConfigError("encoded tracks require mono audio", "channels")
		}
		track, err := webrtc.NewTrackLocalStaticSample(enc.Capability(), "audio", "nia-mic")
		if err != nil {
			return nil, core.NewMediaError("create local track", err)
		}
		s.track = track
	}
	return s, nil
}

// Config returns the stream's audio format.
func (s *Stream) Config() Constraints { return s.cfg }

// Frames returns the channel of captured audio. The stream's producer
// closes it at end of audio. Frames are dropped, not queued, when the
// consumer falls behind.
func (s *Stream) Frames() <-chan Frame { return s.frames }

// Track returns the sendable WebRTC track, or nil when the stream was
// built without an encoder.
func (s *Stream) Track() webrtc.TrackLocal {
	if s.track == nil {
		return nil
	}
	return s.track
}

// Dropped reports how many frames were discarded because the consumer
// fell behind.
func (s *Stream) Dropped() int64 { return s.dropped.Load() }

// Done is closed when the stream is closed.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Push delivers one frame to the stream's consumers. The frame channel
// write never blocks; the track write hands the encoded sample to the
// peer connection's pacer. Push returns ErrStreamClosed once the stream
// is closed.
func (s *Stream) Push(f Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	select {
	case s.frames <- f:
	default:
		s.dropped.Add(1)
	}
	s.mu.Unlock()
	return s.writeTrack(f)
}

// pushWait is Push with backpressure instead of dropping. Only the
// goroutine that will later call endFrames may use it.
func (s *Stream) pushWait(f Frame) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.mu.Unlock()
	select {
	case s.frames <- f:
	case <-s.done:
		return ErrStreamClosed
	}
	return s.writeTrack(f)
}

func (s *Stream) writeTrack(f Frame) error {
	if s.track == nil || len(f.PCM) == 0 {
		return nil
	}
	encoded := s.enc.Encode(f.PCM)
	if len(encoded) == 0 {
		return nil
	}
	if err := s.track.WriteSample(pionmedia.Sample{Data: encoded, Duration: f.Duration}); err != nil {
		return core.NewMediaError("write track sample", err)
	}
	return nil
}

// endFrames closes the frame channel. Only the stream's single producer
// calls it, after its final Push.
func (s *Stream) endFrames() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.framesEnded {
		return
	}
	s.framesEnded = true
	close(s.frames)
}

// Close releases the stream and stops its producer. Consumers watching
// Done wake immediately; the frame channel closes once the producer has
// drained. Close is idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)
	return nil
}

// Provider acquires local audio. Acquisition may involve a device prompt,
// so it takes a context; the returned stream outlives the context and runs
// until closed.
type Provider interface {
	Acquire(ctx context.Context, c Constraints) (*Stream, error)
}

// String implements fmt.Stringer for logging.
func (f Frame) String() string {
	return fmt.Sprintf("frame(%dB %s)", len(f.PCM), f.Duration)
}
