package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/internal/dotenv"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/media"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/playback"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/session"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/vad"
)

// defaultAIPCMRateHz is the sample rate of raw AI voice audio when the
// server synthesizes PCM (Gemini TTS emits 24kHz mono).
const defaultAIPCMRateHz = 24000

type options struct {
	gateway     string
	room        string
	token       string
	name        string
	audioFile   string
	loopAudio   bool
	toneHz      int
	muted       bool
	sensitivity float64
	stunURL     string

	noSpeaker     bool
	ffplayPath    string
	speakerVolume int
	aiSampleRate  int
	debug         bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "nia-meet: %v\n", err)
		return 1
	}

	var opt options
	flag.StringVar(&opt.gateway, "gateway", "", "Gateway base URL (http(s)://host:port or ws(s)://...); required")
	flag.StringVar(&opt.room, "room", "", "Meeting room ID; required")
	flag.StringVar(&opt.token, "token", "", "Meeting token (also reads NIA_MEETING_TOKEN)")
	flag.StringVar(&opt.name, "name", "Guest", "Display name shown to the room")
	flag.StringVar(&opt.audioFile, "audio-file", "", "PCM16LE or WAV file fed as the microphone; empty generates audio locally")
	flag.BoolVar(&opt.loopAudio, "loop-audio", false, "Loop the audio file instead of ending the stream at EOF")
	flag.IntVar(&opt.toneHz, "tone-hz", 0, "Without -audio-file, generate a sine tone at this frequency (0 = silence)")
	flag.BoolVar(&opt.muted, "muted", false, "Join with the microphone muted")
	flag.Float64Var(&opt.sensitivity, "sensitivity", 0, "Voice detection sensitivity in [0,1] (0 = default)")
	flag.StringVar(&opt.stunURL, "stun", "stun:stun.l.google.com:19302", "STUN server for peer links; empty disables")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not spawn ffplay; AI audio is discarded after ordering")
	flag.StringVar(&opt.ffplayPath, "ffplay-path", "ffplay", "Path to ffplay executable")
	flag.IntVar(&opt.speakerVolume, "speaker-volume", 80, "ffplay volume, 0=min 100=max")
	flag.IntVar(&opt.aiSampleRate, "ai-sample-rate", defaultAIPCMRateHz, "Sample rate assumed for raw AI PCM audio")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if strings.TrimSpace(opt.token) == "" {
		opt.token = strings.TrimSpace(os.Getenv("NIA_MEETING_TOKEN"))
	}

	if strings.TrimSpace(opt.gateway) == "" {
		fmt.Fprintln(os.Stderr, "--gateway is required")
		return 2
	}
	if strings.TrimSpace(opt.room) == "" {
		fmt.Fprintln(os.Stderr, "--room is required")
		return 2
	}
	if strings.TrimSpace(opt.token) == "" {
		fmt.Fprintln(os.Stderr, "--token is required (or set NIA_MEETING_TOKEN)")
		return 2
	}
	if opt.sensitivity < 0 || opt.sensitivity > 1 {
		fmt.Fprintln(os.Stderr, "--sensitivity must be between 0 and 1")
		return 2
	}
	if opt.speakerVolume < 0 || opt.speakerVolume > 100 {
		fmt.Fprintln(os.Stderr, "--speaker-volume must be between 0 and 100")
		return 2
	}
	if opt.toneHz < 0 {
		fmt.Fprintln(os.Stderr, "--tone-hz must be >= 0")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runMeeting(ctx, opt)
}

func runMeeting(ctx context.Context, opt options) int {
	level := slog.LevelWarn
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	var provider media.Provider
	if strings.TrimSpace(opt.audioFile) != "" {
		constraints := media.DefaultConstraints()
		enc, err := media.NewG711Encoder(constraints.SampleRate)
		if err != nil {
			enc = nil
		}
		provider = &media.FileProvider{
			Path:    strings.TrimSpace(opt.audioFile),
			Loop:    opt.loopAudio,
			Encoder: enc,
			Logger:  logger,
		}
	} else {
		provider = &toneProvider{freqHz: opt.toneHz, logger: logger}
	}

	var player playback.Player
	if !opt.noSpeaker {
		player = newFFplayPlayer(opt.ffplayPath, opt.speakerVolume, opt.aiSampleRate, opt.debug)
	}

	var iceServers []webrtc.ICEServer
	if s := strings.TrimSpace(opt.stunURL); s != "" {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{s}})
	}

	ctrl := session.New(session.Config{
		ServerURL:   opt.gateway,
		RoomID:      opt.room,
		Token:       opt.token,
		DisplayName: opt.name,
		Muted:       opt.muted,
		Media:       provider,
		Player:      player,
		VAD:         vad.Config{Sensitivity: opt.sensitivity},
		ICEServers:  iceServers,
		Logger:      logger,
	})

	joinCtx, cancelJoin := context.WithTimeout(ctx, 30*time.Second)
	err := ctrl.Join(joinCtx)
	cancelJoin()
	if err != nil {
		fmt.Fprintln(os.Stderr, "join failed:", err)
		return 1
	}

	snap := ctrl.Snapshot()
	fmt.Fprintf(os.Stderr, "joined room %s as %s; type to talk, commands: /mute /unmute /who /quit\n", snap.RoomID, opt.name)

	names := make(map[string]string)
	for _, p := range snap.Participants {
		names[p.ID] = p.DisplayName
	}

	lines := make(chan string)
	go readStdin(ctx, lines)
	lineCh := lines

	for {
		select {
		case <-ctx.Done():
			ctrl.Leave()
			fmt.Fprintln(os.Stderr, "left meeting")
			return 0

		case line, ok := <-lineCh:
			if !ok {
				// Stdin closed (piped input ran out); stay in the meeting.
				lineCh = nil
				continue
			}
			if dispatchLine(ctrl, line) {
				ctrl.Leave()
				fmt.Fprintln(os.Stderr, "left meeting")
				return 0
			}

		case ev, ok := <-ctrl.Events():
			if !ok {
				if ctrl.State() == session.StateFailed {
					return 1
				}
				return 0
			}
			printEvent(names, ev)
		}
	}
}

func printEvent(names map[string]string, ev session.Event) {
	switch e := ev.(type) {
	case session.StateEvent:
		if e.Err != nil {
			fmt.Fprintf(os.Stderr, "[session] state=%s error=%v\n", e.State, e.Err)
			return
		}
		fmt.Fprintf(os.Stderr, "[session] state=%s\n", e.State)

	case session.RosterEvent:
		labels := make([]string, 0, len(e.Participants))
		for _, p := range e.Participants {
			names[p.ID] = p.DisplayName
			labels = append(labels, participantLabel(p))
		}
		fmt.Printf("[roster] %s\n", strings.Join(labels, ", "))

	case session.PhaseEvent:
		if e.Speaker != "" {
			fmt.Printf("[phase] %s (%s)\n", e.Phase, speakerLabel(names, e.Speaker, ""))
			return
		}
		fmt.Printf("[phase] %s\n", e.Phase)

	case session.TranscriptEvent:
		fmt.Printf("[%s] %s\n", speakerLabel(names, e.Entry.SpeakerID, e.Entry.SpeakerKind), e.Entry.Text)

	case session.CompletedEvent:
		fmt.Printf("[meeting] completed: %s\n", e.Summary)
		if len(e.Analysis) > 0 {
			var buf bytes.Buffer
			if json.Indent(&buf, e.Analysis, "", "  ") == nil {
				fmt.Println(buf.String())
			} else {
				fmt.Println(string(e.Analysis))
			}
		}
	}
}

// dispatchLine handles one line of user input and reports whether the
// user asked to quit.
func dispatchLine(ctrl *session.Controller, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	switch {
	case line == "/quit":
		return true
	case line == "/mute":
		if err := ctrl.SetMuted(true); err != nil {
			fmt.Fprintln(os.Stderr, "mute:", err)
		}
	case line == "/unmute":
		if err := ctrl.SetMuted(false); err != nil {
			fmt.Fprintln(os.Stderr, "unmute:", err)
		}
	case line == "/who":
		snap := ctrl.Snapshot()
		fmt.Printf("room %s, phase %s:\n", snap.RoomID, snap.Phase)
		for _, p := range snap.Participants {
			fmt.Printf("  %s\n", participantLabel(p))
		}
	case strings.HasPrefix(line, "/"):
		fmt.Fprintf(os.Stderr, "unknown command %q (try /mute /unmute /who /quit)\n", line)
	default:
		if err := ctrl.SendText(line); err != nil {
			fmt.Fprintln(os.Stderr, "send:", err)
		}
	}
	return false
}

// speakerLabel resolves a participant ID to something readable: display
// name first, then a kind tag, then a shortened ID.
func speakerLabel(names map[string]string, id string, kind protocol.ParticipantKind) string {
	if n := names[id]; n != "" {
		return n
	}
	if kind == protocol.KindAI {
		return "ai"
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func participantLabel(p protocol.Participant) string {
	label := p.DisplayName
	if label == "" {
		label = speakerLabel(nil, p.ID, p.Kind)
	}
	if p.Kind == protocol.KindAI {
		label += " (ai)"
	}
	var marks []string
	if p.Muted {
		marks = append(marks, "muted")
	}
	if p.Speaking {
		marks = append(marks, "speaking")
	}
	if len(marks) > 0 {
		label += " [" + strings.Join(marks, ",") + "]"
	}
	return label
}

func readStdin(ctx context.Context, lines chan<- string) {
	defer close(lines)
	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		select {
		case lines <- sc.Text():
		case <-ctx.Done():
			return
		}
	}
}
