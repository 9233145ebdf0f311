package media

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
)

// DefaultFrameDuration is the capture chunk size providers emit.
const DefaultFrameDuration = 20 * time.Millisecond

// FileProvider serves audio from a PCM16LE file (raw s16le or a simple WAV)
// in place of a microphone. Frames are paced at real time so downstream
// voice activity detection behaves as it would live.
type FileProvider struct {
	// Path of the audio file. Raw files must match the requested
	// sample rate; WAV files are checked against their header.
	Path string

	// FrameDuration is the chunk size. Default: 20ms.
	FrameDuration time.Duration

	// Loop restarts the file at EOF instead of ending the stream.
	Loop bool

	// NoPace disables real-time pacing; frames are emitted as fast as
	// the consumer drains them. Intended for tests.
	NoPace bool

	// Encoder for the stream's WebRTC track. Nil means no track.
	Encoder Encoder

	// Logger for drop and EOF reporting. Default: slog.Default().
	Logger *slog.Logger
}

// Acquire implements Provider. The context bounds acquisition only; the
// returned stream runs until closed (or EOF when Loop is false).
func (p *FileProvider) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	frameDur := p.FrameDuration
	if frameDur <= 0 {
		frameDur = DefaultFrameDuration
	}

	raw, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, core.NewMediaError("read audio file", err)
	}
	data, rate, channels, err := stripWAVHeader(raw)
	if err != nil {
		return nil, err
	}
	if rate != 0 && rate != c.SampleRate {
		return nil, core.NewConfigError("file sample rate does not match constraints", "sample_rate")
	}
	if channels != 0 && channels != c.Channels {
		return nil, core.NewConfigError("file channel count does not match constraints", "channels")
	}

	s, err := NewStream(c, p.Encoder)
	if err != nil {
		return nil, err
	}

	frameBytes := c.BytesForDuration(frameDur)
	if frameBytes <= 0 {
		s.Close()
		return nil, core.NewConfigError("frame duration too short for sample rate", "frame_duration")
	}

	go p.pump(s, logger, data, frameBytes, frameDur)
	return s, nil
}

func (p *FileProvider) pump(s *Stream, logger *slog.Logger, data []byte, frameBytes int, frameDur time.Duration) {
	defer func() {
		s.endFrames()
		s.Close()
	}()

	var tick *time.Ticker
	if !p.NoPace {
		tick = time.NewTicker(frameDur)
		defer tick.Stop()
	}

	off := 0
	for {
		if tick != nil {
			select {
			case <-tick.C:
			case <-s.Done():
				return
			}
		} else {
			select {
			case <-s.Done():
				return
			default:
			}
		}

		if off >= len(data) {
			if !p.Loop || len(data) < frameBytes {
				logger.Debug("audio file exhausted", "path", p.Path, "dropped", s.Dropped())
				return
			}
			off = 0
		}
		end := off + frameBytes
		if end > len(data) {
			end = len(data)
		}
		chunk := data[off:end]
		frame := Frame{PCM: chunk, Duration: s.cfg.Duration(len(chunk))}
		var err error
		if p.NoPace {
			err = s.pushWait(frame)
		} else {
			err = s.Push(frame)
		}
		if err != nil {
			return
		}
		off = end
	}
}

// stripWAVHeader returns the PCM payload of buf. Raw input passes through
// with zero rate/channels (unknown). WAV input must be 16-bit PCM; the
// header's sample rate and channel count are returned for validation.
func stripWAVHeader(buf []byte) (pcm []byte, sampleRate, channels int, err error) {
	if len(buf) < 12 || string(buf[0:4]) != "RIFF" || string(buf[8:12]) != "WAVE" {
		return buf, 0, 0, nil
	}
	off := 12
	for off+8 <= len(buf) {
		id := string(buf[off : off+4])
		size := int(binary.LittleEndian.Uint32(buf[off+4 : off+8]))
		body := off + 8
		if body+size > len(buf) {
			size = len(buf) - body
		}
		switch id {
		case "fmt ":
			if size >= 16 {
				format := binary.LittleEndian.Uint16(buf[body : body+2])
				channels = int(binary.LittleEndian.Uint16(buf[body+2 : body+4]))
				sampleRate = int(binary.LittleEndian.Uint32(buf[body+4 : body+8]))
				bits := binary.LittleEndian.Uint16(buf[body+14 : body+16])
				if format != 1 || bits != 16 {
					return nil, 0, 0, core.NewMediaError("wav file is not 16-bit PCM", nil)
				}
			}
		case "data":
			return buf[body : body+size], sampleRate, channels, nil
		}
		// Chunks are word-aligned.
		if size%2 == 1 {
			size++
		}
		off = body + size
	}
	return nil, 0, 0, core.NewMediaError("wav file has no data chunk", nil)
}
