package agent

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

const (
	farewellText = "Thank you for sharing all that information with me. Let me analyze what we've discussed and provide you with a summary."

	analysisTimeout = 30 * time.Second
)

// Host is the AI participant for one room. It registers itself as the
// room's outbound sink, so the room pushes it the same encoded frames a
// websocket member would receive; everything the host says goes back in
// through Room.HandleMessage like any other member.
type Host struct {
	cfg    Config
	id     string
	room   *rooms.Room
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	inbound   chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newHost(parent context.Context, room *rooms.Room, cfg Config) *Host {
	ctx, cancel := context.WithCancel(parent)
	id := "ai_" + uuid.NewString()
	return &Host{
		cfg:     cfg,
		id:      id,
		room:    room,
		logger:  cfg.Logger.With("room_id", room.ID, "participant_id", id),
		ctx:     ctx,
		cancel:  cancel,
		inbound: make(chan []byte, 256),
		done:    make(chan struct{}),
	}
}

// Deliver queues one room frame for the host loop. Frames arriving after
// the host shut down are swallowed, not reported as backpressure.
func (h *Host) Deliver(data []byte) bool {
	select {
	case <-h.done:
		return true
	default:
	}
	select {
	case h.inbound <- data:
		return true
	default:
		return false
	}
}

// Close is the room telling the host it is no longer a member.
func (h *Host) Close(code, message string) {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Host) join() error {
	return h.room.Join(protocol.Participant{
		ID:          h.id,
		DisplayName: h.cfg.DisplayName,
		Kind:        protocol.KindAI,
	}, h)
}

type utterance struct {
	text     string
	audio    *Audio
	farewell bool
}

type analysisResult struct {
	analysis LeadAnalysis
	err      error
}

// run drives the discovery conversation until the meeting completes, every
// human leaves, or the manager shuts down. All room sends happen from this
// goroutine so frame order matches conversation order.
func (h *Host) run() {
	defer h.cancel()
	defer h.room.Leave(h.id)

	var (
		transcript []Turn
		humans     = make(map[string]struct{})

		asked         int
		composing     bool
		speaking      bool
		pendingAnswer bool
		completing    bool
		analyzing     bool
	)

	utterCh := make(chan utterance, 1)
	analysisCh := make(chan analysisResult, 1)

	var composeTimer, speakTimer, idleTimer *time.Timer
	timerCh := func(t *time.Timer) <-chan time.Time {
		if t == nil {
			return nil
		}
		return t.C
	}
	resetTimer := func(t **time.Timer, d time.Duration) {
		if *t == nil {
			*t = time.NewTimer(d)
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
		(*t).Reset(d)
	}
	stopTimer := func(t **time.Timer) {
		if *t == nil {
			return
		}
		if !(*t).Stop() {
			select {
			case <-(*t).C:
			default:
			}
		}
	}

	startCompose := func(farewell bool) {
		if composing {
			return
		}
		composing = true
		snapshot := make([]Turn, len(transcript))
		copy(snapshot, transcript)
		nextAsked := asked
		go func() {
			text := farewellText
			if !farewell {
				text = h.composeUtterance(snapshot, nextAsked)
			}
			var audio *Audio
			if h.cfg.Synthesizer != nil {
				a, err := h.cfg.Synthesizer.Synthesize(h.ctx, text, h.cfg.Voice)
				if err != nil {
					h.logger.Warn("speech synthesis failed, sending text only", "error", err)
				} else if len(a.Data) > 0 {
					audio = &a
				}
			}
			select {
			case utterCh <- utterance{text: text, audio: audio, farewell: farewell}:
			case <-h.ctx.Done():
			}
		}()
	}

	startAnalysis := func() {
		if analyzing {
			return
		}
		analyzing = true
		stopTimer(&composeTimer)
		stopTimer(&idleTimer)
		snapshot := make([]Turn, len(transcript))
		copy(snapshot, transcript)
		go func() {
			ctx, cancel := context.WithTimeout(h.ctx, analysisTimeout)
			defer cancel()
			analysis, err := h.cfg.Analyzer.Analyze(ctx, snapshot)
			select {
			case analysisCh <- analysisResult{analysis: analysis, err: err}:
			case <-h.ctx.Done():
			}
		}()
	}

	for {
		select {
		case <-h.ctx.Done():
			return

		case <-h.done:
			h.logger.Info("host detached", "turns", len(transcript))
			return

		case data := <-h.inbound:
			msg, err := protocol.Decode(data)
			if err != nil {
				h.logger.Warn("dropping undecodable room frame", "error", err)
				continue
			}
			switch msg := msg.(type) {
			case protocol.RoomJoined:
				for _, p := range msg.Participants {
					if p.Kind == protocol.KindHuman {
						humans[p.ID] = struct{}{}
					}
				}
				resetTimer(&idleTimer, h.cfg.IdleTimeout)
				startCompose(false)

			case protocol.ParticipantJoined:
				if msg.Participant.Kind == protocol.KindHuman {
					humans[msg.Participant.ID] = struct{}{}
				}

			case protocol.ParticipantLeft:
				delete(humans, msg.ParticipantID)
				if len(humans) == 0 && !analyzing {
					h.logger.Info("all participants left, finalizing meeting")
					completing = true
					startAnalysis()
				}

			case protocol.ConversationMessage:
				if msg.From == h.id {
					continue
				}
				transcript = append(transcript, Turn{
					Speaker: msg.From,
					Kind:    msg.SpeakerKind,
					Text:    msg.Text,
					At:      msg.Timestamp,
				})
				if completing {
					continue
				}
				resetTimer(&idleTimer, h.cfg.IdleTimeout)
				if composing || speaking {
					pendingAnswer = true
				} else {
					resetTimer(&composeTimer, h.cfg.ResponseDelay)
				}

			case protocol.ErrorMessage:
				h.logger.Warn("room error", "code", msg.Code, "message", msg.Message)

			case protocol.Unknown:
				h.logger.Debug("ignoring room frame", "message_type", msg.TypeName)

			default:
				// voice_activity and relayed negotiation frames carry
				// nothing the host acts on.
			}

		case <-timerCh(composeTimer):
			if analyzing {
				continue
			}
			if asked >= h.cfg.MaxQuestions {
				completing = true
				startCompose(true)
			} else {
				startCompose(false)
			}

		case u := <-utterCh:
			composing = false
			if analyzing {
				// Everyone left while this utterance was being produced.
				continue
			}
			h.speak(u)
			transcript = append(transcript, Turn{Speaker: h.id, Kind: protocol.KindAI, Text: u.text, At: time.Now()})
			if !u.farewell {
				asked++
			}
			speaking = true
			resetTimer(&speakTimer, estimateSpeech(u.text, u.audio))

		case <-timerCh(speakTimer):
			speaking = false
			h.say(protocol.AISpeakingFinished{Type: protocol.TypeAISpeakingFinished, From: h.id})
			switch {
			case analyzing:
			case completing:
				startAnalysis()
			case pendingAnswer:
				pendingAnswer = false
				resetTimer(&composeTimer, h.cfg.ResponseDelay)
			}

		case <-timerCh(idleTimer):
			if completing || analyzing {
				continue
			}
			h.logger.Info("meeting idle, wrapping up")
			completing = true
			if speaking || composing {
				continue
			}
			startCompose(true)

		case res := <-analysisCh:
			analysis := res.analysis
			if res.err != nil {
				h.logger.Warn("lead analysis failed, using heuristic fallback", "error", res.err)
				analysis = DefaultAnalysis(transcript)
			}
			if analysis.Summary == "" {
				analysis.Summary = "Meeting completed successfully."
			}
			payload, err := json.Marshal(analysis)
			if err != nil {
				h.logger.Error("encode lead analysis", "error", err)
				payload = nil
			}
			h.say(protocol.MeetingCompleted{
				Type:     protocol.TypeMeetingCompleted,
				Analysis: payload,
				Summary:  analysis.Summary,
			})
			h.logger.Info("meeting completed", "lead_score", analysis.LeadScore, "turns", len(transcript))
			return
		}
	}
}

// composeUtterance picks the next discovery question: the scripted plan
// while it lasts, the responder for contextual follow-ups beyond it.
func (h *Host) composeUtterance(transcript []Turn, asked int) string {
	if asked == 0 {
		first := "Can you tell me about your company and what you do?"
		if len(h.cfg.Questions) > 0 {
			first = h.cfg.Questions[0]
		}
		return "Hello! I'm " + h.cfg.DisplayName + ", the AI assistant for this meeting. I'm here to learn about your business and help find the right fit. " + first
	}
	if asked < len(h.cfg.Questions) {
		return h.cfg.Questions[asked]
	}

	// Past the scripted plan; ask the responder for a contextual follow-up.
	text, err := h.cfg.Responder.NextUtterance(h.ctx, transcript, nil)
	if err != nil {
		h.logger.Warn("responder failed, using scripted follow-up", "error", err)
		text, _ = ScriptedResponder{}.NextUtterance(h.ctx, transcript, nil)
	}
	return text
}

func (h *Host) speak(u utterance) {
	if u.audio != nil {
		h.say(protocol.AIVoiceMessage{
			Type:        protocol.TypeAIVoiceMessage,
			From:        h.id,
			Text:        u.text,
			AudioB64:    base64.StdEncoding.EncodeToString(u.audio.Data),
			AudioFormat: u.audio.Format,
			Voice:       h.cfg.Voice,
		})
		return
	}
	h.say(protocol.AIMessage{Type: protocol.TypeAIMessage, From: h.id, Text: u.text})
}

func (h *Host) say(msg protocol.Message) {
	h.room.HandleMessage(h.id, msg)
}

// estimateSpeech reports how long the utterance holds the floor. PCM audio
// has an exact duration; for opaque formats fall back to a speaking-rate
// estimate of 60ms per character with a two second minimum.
func estimateSpeech(text string, audio *Audio) time.Duration {
	if audio != nil && audio.Format == protocol.AudioFormatPCM16LE && audio.SampleRate > 0 && len(audio.Data) >= 2 {
		samples := len(audio.Data) / 2
		return time.Duration(samples) * time.Second / time.Duration(audio.SampleRate)
	}
	d := time.Duration(len(text)) * 60 * time.Millisecond
	if d < 2*time.Second {
		d = 2 * time.Second
	}
	return d
}
