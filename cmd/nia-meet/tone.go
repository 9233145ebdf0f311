package main

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/media"
)

// toneProvider synthesizes the local microphone: a steady sine tone when
// freqHz > 0, silence otherwise. A tone is loud enough to register as
// speech, which makes it handy for exercising voice activity end to end
// without a capture device.
type toneProvider struct {
	freqHz int
	logger *slog.Logger
}

func (p *toneProvider) Acquire(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := p.logger
	if logger == nil {
		logger = slog.Default()
	}

	enc, err := media.NewG711Encoder(c.SampleRate)
	if err != nil {
		// No outbound track at this rate; frames still feed detection.
		enc = nil
	}
	stream, err := media.NewStream(c, enc)
	if err != nil {
		return nil, err
	}

	go p.pump(stream, c, logger)
	return stream, nil
}

func (p *toneProvider) pump(s *media.Stream, c media.Constraints, logger *slog.Logger) {
	frameDur := media.DefaultFrameDuration
	frameBytes := c.BytesForDuration(frameDur)
	if frameBytes <= 0 {
		frameBytes = 2
	}

	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	var phase float64
	step := 2 * math.Pi * float64(p.freqHz) / float64(c.SampleRate)

	for {
		select {
		case <-s.Done():
			return
		case <-ticker.C:
		}

		frame := make([]byte, frameBytes)
		if p.freqHz > 0 {
			phase = fillSine(frame, phase, step, 0.4)
		}
		err := s.Push(media.Frame{PCM: frame, Duration: frameDur})
		if err != nil {
			if !errors.Is(err, media.ErrStreamClosed) {
				logger.Warn("tone frame push failed", "error", err)
			}
			return
		}
	}
}

// fillSine writes phase-continuous PCM16LE samples and returns the phase
// to resume from, so consecutive frames form one unbroken tone.
func fillSine(frame []byte, phase, step, amp float64) float64 {
	for i := 0; i+1 < len(frame); i += 2 {
		v := int16(amp * math.Sin(phase) * 32767.0)
		frame[i] = byte(v)
		frame[i+1] = byte(v >> 8)
		phase += step
	}
	// Keep the accumulator small over long runs.
	if phase > 2*math.Pi {
		phase = math.Mod(phase, 2*math.Pi)
	}
	return phase
}
