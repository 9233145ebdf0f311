package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/playback"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

// ffplayPlayer renders AI utterances by spawning one ffplay process per
// chunk. Utterances arrive complete rather than streamed, so -autoexit
// makes each process quit at EOF and Play blocks exactly as long as the
// audio runs.
type ffplayPlayer struct {
	path      string
	volume    int
	pcmRateHz int
	logLevel  string
}

var _ playback.Player = (*ffplayPlayer)(nil)

func newFFplayPlayer(path string, volume, pcmRateHz int, debug bool) *ffplayPlayer {
	if strings.TrimSpace(path) == "" {
		path = "ffplay"
	}
	if volume <= 0 {
		volume = 80
	}
	if pcmRateHz <= 0 {
		pcmRateHz = defaultAIPCMRateHz
	}
	logLevel := "error"
	if debug {
		logLevel = "info"
	}
	return &ffplayPlayer{path: path, volume: volume, pcmRateHz: pcmRateHz, logLevel: logLevel}
}

func (p *ffplayPlayer) Play(ctx context.Context, c playback.Chunk) error {
	if len(c.Audio) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, p.path, ffplayArgs(c.Format, p.pcmRateHz, p.volume, p.logLevel)...)
	if runtime.GOOS == "darwin" {
		// ffplay plays through SDL, which can pick a silent dummy backend
		// on macOS; prefer CoreAudio unless the user overrides it.
		if os.Getenv("SDL_AUDIODRIVER") == "" {
			cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start ffplay: %w", err)
	}

	_, writeErr := stdin.Write(c.Audio)
	_ = stdin.Close()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffplay: %w", err)
	}
	if writeErr != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return writeErr
}

// ffplayArgs builds the ffplay invocation for one utterance. Raw PCM needs
// the format spelled out; anything containerized (mp3) is probed from the
// stream itself.
func ffplayArgs(format string, pcmRateHz, volume int, logLevel string) []string {
	args := []string{
		"-hide_banner",
		"-loglevel", logLevel,
		"-nostats",
		"-nodisp",
		"-autoexit",
		"-volume", fmt.Sprintf("%d", volume),
	}
	if format == protocol.AudioFormatPCM16LE {
		// ffplay does not accept ffmpeg-style `-ac`; use `-ch_layout`.
		args = append(args,
			"-f", "s16le",
			"-ch_layout", "mono",
			"-ar", fmt.Sprintf("%d", pcmRateHz),
		)
	}
	return append(args, "-i", "-")
}
