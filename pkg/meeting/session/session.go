// Package session drives one client's participation in a meeting room: a
// state machine over the signaling channel, the peer link registry, the
// local voice activity detector and the AI playback queue. Every mutation
// of roster, phase and transcript is applied by a single run goroutine, so
// events from different sources are never interleaved mid-update.
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/media"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/peers"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/playback"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/signaling"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/vad"
)

// State is the controller lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateJoining    State = "joining"
	StateActive     State = "active"
	StateEnded      State = "ended"
	StateFailed     State = "failed"
)

// Entry is one transcript line. The transcript is append-only.
type Entry struct {
	SpeakerID   string
	SpeakerKind protocol.ParticipantKind
	Text        string
	Timestamp   time.Time
	Confidence  *float64
}

// Event is emitted by Controller.Events().
type Event interface {
	sessionEventType() string
}

// StateEvent reports a lifecycle transition. Err is set when the new
// state is StateFailed.
type StateEvent struct {
	State State
	Err   error
}

func (e StateEvent) sessionEventType() string { return "state" }

// RosterEvent reports a roster change with the full post-change roster.
type RosterEvent struct {
	Participants []protocol.Participant
}

func (e RosterEvent) sessionEventType() string { return "roster" }

// PhaseEvent reports a conversation phase change.
type PhaseEvent struct {
	Phase   protocol.Phase
	Speaker string
}

func (e PhaseEvent) sessionEventType() string { return "phase" }

// TranscriptEvent reports one appended transcript line.
type TranscriptEvent struct {
	Entry Entry
}

func (e TranscriptEvent) sessionEventType() string { return "transcript" }

// CompletedEvent delivers the final analysis from meeting_completed. The
// analysis object is opaque to the meeting core.
type CompletedEvent struct {
	Analysis json.RawMessage
	Summary  string
}

func (e CompletedEvent) sessionEventType() string { return "completed" }

// Snapshot is a point-in-time copy of session state, safe to retain.
type Snapshot struct {
	State            State
	Phase            protocol.Phase
	RoomID           string
	SelfID           string
	CurrentSpeaker   string
	Participants     []protocol.Participant
	Transcript       []Entry
	NeedsUserGesture bool
	Playing          bool
}

// Config describes one meeting join.
type Config struct {
	// ServerURL is the signaling server base, e.g. "wss://host".
	ServerURL string

	// RoomID of the meeting to join.
	RoomID string

	// Token authenticates the join. Required.
	Token string

	// SelfID identifies this participant. Default: a fresh UUID.
	SelfID string

	// DisplayName shown to the room. Required.
	DisplayName string

	// Kind of this participant. Default: human.
	Kind protocol.ParticipantKind

	// Muted joins with the microphone muted.
	Muted bool

	// Media provides the local audio stream. Required for human
	// participants.
	Media media.Provider

	// MediaConstraints for acquisition. Default: DefaultConstraints.
	MediaConstraints media.Constraints

	// Player renders AI audio. Nil discards audio after ordering it.
	Player playback.Player

	// VAD tunes local speech detection.
	VAD vad.Config

	// ICEServers for peer links.
	ICEServers []webrtc.ICEServer

	// DialTimeout bounds the signaling connect.
	DialTimeout time.Duration

	// Logger for the session. Default: slog.Default().
	Logger *slog.Logger
}

// sigConn is the slice of signaling.Channel the controller uses.
type sigConn interface {
	Send(protocol.Message) error
	Events() <-chan signaling.Event
	Close() error
}

// peerReg is the slice of peers.Registry the controller uses.
type peerReg interface {
	SetLocalTrack(webrtc.TrackLocal)
	Offer(participantID string) (webrtc.SessionDescription, error)
	HandleOffer(participantID string, sdp webrtc.SessionDescription) (webrtc.SessionDescription, error)
	HandleAnswer(participantID string, sdp webrtc.SessionDescription) error
	HandleICE(participantID string, cand webrtc.ICECandidateInit) error
	CloseLink(participantID string)
	Events() <-chan peers.Event
	Close() error
}

// deps are the constructors the controller calls, replaceable in tests.
type deps struct {
	dial        func(ctx context.Context, cfg signaling.Config) (sigConn, error)
	newRegistry func(cfg peers.Config) peerReg
}

const eventBuffer = 128

// Controller owns one meeting session from Join to teardown. Construct
// with New, call Join once, watch Events, and finish with Leave. All
// methods are safe for concurrent use.
type Controller struct {
	cfg    Config
	logger *slog.Logger
	deps   deps

	base   context.Context
	cancel context.CancelFunc

	events chan Event
	cmds   chan func()
	done   chan struct{}
	active chan struct{}

	emitMu       sync.Mutex
	eventsClosed bool
	activeOnce   sync.Once

	// Resources, set during Join.
	stream *media.Stream
	sig    sigConn
	reg    peerReg
	det    *vad.Detector
	queue  *playback.Queue

	mu             sync.Mutex
	state          State
	phase          protocol.Phase
	participants   map[string]*protocol.Participant
	transcript     []Entry
	currentSpeaker string
	selfSpeaking   bool
	joined         bool
	joinSent       bool
	completed      bool
	termErr        error
	releaseOnce    sync.Once
}

// New builds an idle controller. Nothing connects until Join.
func New(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Kind == "" {
		cfg.Kind = protocol.KindHuman
	}
	if cfg.SelfID == "" {
		cfg.SelfID = uuid.NewString()
	}
	if cfg.MediaConstraints == (media.Constraints{}) {
		cfg.MediaConstraints = media.DefaultConstraints()
	}

	base, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:          cfg,
		logger:       cfg.Logger.With("room_id", cfg.RoomID, "self_id", cfg.SelfID),
		base:         base,
		cancel:       cancel,
		events:       make(chan Event, eventBuffer),
		cmds:         make(chan func()),
		done:         make(chan struct{}),
		active:       make(chan struct{}),
		state:        StateIdle,
		phase:        protocol.PhaseWaiting,
		participants: make(map[string]*protocol.Participant),
	}
	c.deps = deps{
		dial: func(ctx context.Context, cfg signaling.Config) (sigConn, error) {
			return signaling.Dial(ctx, cfg)
		},
		newRegistry: func(cfg peers.Config) peerReg {
			return peers.NewRegistry(cfg)
		},
	}
	return c
}

// Events yields session events. The channel closes after teardown.
func (c *Controller) Events() <-chan Event { return c.events }

// Done is closed once the session has fully torn down.
func (c *Controller) Done() <-chan struct{} { return c.done }

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Snapshot returns a copy of the full session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	snap := Snapshot{
		State:          c.state,
		Phase:          c.phase,
		RoomID:         c.cfg.RoomID,
		SelfID:         c.cfg.SelfID,
		CurrentSpeaker: c.currentSpeaker,
		Participants:   c.rosterLocked(),
		Transcript:     append([]Entry(nil), c.transcript...),
	}
	q := c.queue
	c.mu.Unlock()
	if q != nil {
		snap.NeedsUserGesture = q.NeedsUserGesture()
		snap.Playing = q.IsPlaying()
	}
	return snap
}

// Join acquires local media, connects signaling, and sends the join
// exactly once. It returns after the server confirms the room (state
// active) or the attempt fails. Join may be called once per controller.
func (c *Controller) Join(ctx context.Context) error {
	c.mu.Lock()
	if c.joined {
		c.mu.Unlock()
		return core.NewInternalError("session already joined", nil)
	}
	c.joined = true
	c.mu.Unlock()

	if err := c.validate(); err != nil {
		c.terminate(err)
		c.runTeardownOnly()
		return err
	}

	c.setState(StateConnecting, nil)

	// Tie the join context to session teardown so Leave cancels an
	// in-flight media prompt or dial.
	joinCtx, cancelJoin := context.WithCancel(ctx)
	defer cancelJoin()
	stopLink := context.AfterFunc(c.base, cancelJoin)
	defer stopLink()

	var stream *media.Stream
	if c.cfg.Kind == protocol.KindHuman {
		var err error
		stream, err = c.cfg.Media.Acquire(joinCtx, c.cfg.MediaConstraints)
		if err != nil {
			err = asMediaErr(err)
			c.terminate(err)
			c.runTeardownOnly()
			return err
		}
		c.mu.Lock()
		c.stream = stream
		c.mu.Unlock()
	}

	sig, err := c.deps.dial(joinCtx, signaling.Config{
		URL:         c.cfg.ServerURL,
		RoomID:      c.cfg.RoomID,
		Token:       c.cfg.Token,
		DialTimeout: c.cfg.DialTimeout,
		Logger:      c.cfg.Logger,
	})
	if err != nil {
		c.terminate(err)
		c.runTeardownOnly()
		return err
	}

	reg := c.deps.newRegistry(peers.Config{
		ICEServers: c.cfg.ICEServers,
		Logger:     c.cfg.Logger,
	})
	if stream != nil {
		if track := stream.Track(); track != nil {
			reg.SetLocalTrack(track)
		}
	}

	queue := playback.NewQueue(c.playerOrDiscard(), c.cfg.Logger)

	var det *vad.Detector
	if stream != nil {
		det = vad.New(c.cfg.VAD, c.cfg.Logger)
	}
	c.mu.Lock()
	c.sig = sig
	c.reg = reg
	c.det = det
	c.queue = queue
	c.mu.Unlock()

	if det != nil {
		if err := det.Start(c.base, stream.Frames()); err != nil {
			c.terminate(err)
			c.runTeardownOnly()
			return err
		}
	}

	if err := c.ensureJoined(); err != nil {
		c.terminate(err)
		c.runTeardownOnly()
		return err
	}
	c.setState(StateJoining, nil)

	go c.run()

	// Wait for the server's roster confirmation.
	select {
	case <-ctx.Done():
		err := core.NewNetworkError("join confirmation timed out", ctx.Err())
		c.terminate(err)
		<-c.done
		return err
	case <-c.done:
		c.mu.Lock()
		err := c.termErr
		c.mu.Unlock()
		if err == nil {
			err = core.NewNetworkError("session ended before join completed", nil)
		}
		return err
	case <-c.active:
		return nil
	}
}

// Leave tears the session down: sends leave, closes every peer link and
// the signaling socket, releases local media. Safe to call at any point,
// any number of times, including mid-Join.
func (c *Controller) Leave() {
	c.mu.Lock()
	// Whoever sets joined first owns teardown. If Join got there, it
	// closes done on every exit path; cancelling unblocks it.
	owns := !c.joined
	c.joined = true
	c.mu.Unlock()
	c.cancel()
	if owns {
		c.finish()
		return
	}
	<-c.done
}

// SendText posts a conversation message to the room and appends it to
// the local transcript.
func (c *Controller) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.NewProtocolError("empty conversation message", "text")
	}
	return c.post(func() {
		msg := protocol.ConversationMessage{
			Type:        protocol.TypeConversationMessage,
			From:        c.cfg.SelfID,
			SpeakerKind: c.cfg.Kind,
			Text:        text,
			Timestamp:   time.Now().UTC(),
		}
		if err := c.sig.Send(msg); err != nil {
			c.logger.Warn("send conversation message", "error", err)
			return
		}
		c.appendTranscript(Entry{
			SpeakerID:   c.cfg.SelfID,
			SpeakerKind: c.cfg.Kind,
			Text:        text,
			Timestamp:   msg.Timestamp,
		})
	})
}

// SetMuted toggles the local microphone. While muted, speech detection
// is ignored and no voice activity is reported.
func (c *Controller) SetMuted(muted bool) error {
	return c.post(func() {
		c.mu.Lock()
		self, ok := c.participants[c.cfg.SelfID]
		if !ok || self.Muted == muted {
			c.mu.Unlock()
			return
		}
		self.Muted = muted
		wasSpeaking := c.selfSpeaking
		c.mu.Unlock()

		if muted && wasSpeaking {
			c.applySelfSpeechEnd()
		}
		c.emit(RosterEvent{Participants: c.roster()})
	})
}

// SetSensitivity adjusts voice detection sensitivity, [0,1].
func (c *Controller) SetSensitivity(v float64) {
	c.mu.Lock()
	det := c.det
	c.mu.Unlock()
	if det != nil {
		det.SetSensitivity(v)
	}
}

// Unlock reports a user gesture to the playback queue.
func (c *Controller) Unlock(ctx context.Context) error {
	c.mu.Lock()
	q := c.queue
	c.mu.Unlock()
	if q == nil {
		return nil
	}
	return q.Unlock(ctx)
}

func (c *Controller) validate() error {
	if strings.TrimSpace(c.cfg.ServerURL) == "" {
		return core.NewConfigError("server url required", "server_url")
	}
	if strings.TrimSpace(c.cfg.RoomID) == "" {
		return core.NewConfigError("room id required", "room_id")
	}
	if strings.TrimSpace(c.cfg.Token) == "" {
		return core.NewConfigError("auth token required", "token")
	}
	if strings.TrimSpace(c.cfg.DisplayName) == "" {
		return core.NewConfigError("display name required", "display_name")
	}
	if c.cfg.Kind == protocol.KindHuman && c.cfg.Media == nil {
		return core.NewConfigError("media provider required for human participants", "media")
	}
	return nil
}

// ensureJoined sends the join frame if it has not been sent yet. The
// guard keeps a duplicate channel-open notification from double-joining.
func (c *Controller) ensureJoined() error {
	c.mu.Lock()
	if c.joinSent {
		c.mu.Unlock()
		return nil
	}
	c.joinSent = true
	c.mu.Unlock()
	return c.sig.Send(protocol.Join{
		Type:        protocol.TypeJoin,
		From:        c.cfg.SelfID,
		DisplayName: c.cfg.DisplayName,
		Kind:        c.cfg.Kind,
		Muted:       c.cfg.Muted,
	})
}

// post runs fn on the session goroutine.
func (c *Controller) post(fn func()) error {
	select {
	case c.cmds <- fn:
		return nil
	case <-c.done:
		return core.NewInternalError("session ended", nil)
	case <-c.base.Done():
		return core.NewInternalError("session ended", nil)
	}
}

// terminate records the terminal error (first one wins) and cancels the
// session context. A nil err means an orderly leave.
func (c *Controller) terminate(err error) {
	c.mu.Lock()
	if c.termErr == nil && err != nil {
		c.termErr = err
	}
	c.mu.Unlock()
	c.cancel()
}

// run is the session goroutine: the single place where roster, phase and
// transcript mutate.
func (c *Controller) run() {
	defer c.finish()

	var vadEvents <-chan vad.Event
	if c.det != nil {
		vadEvents = c.det.Events()
	}
	sigEvents := c.sig.Events()
	regEvents := c.reg.Events()

	for {
		select {
		case <-c.base.Done():
			return
		case fn := <-c.cmds:
			fn()
		case e, ok := <-sigEvents:
			if !ok {
				sigEvents = nil
				continue
			}
			if done := c.handleSignaling(e); done {
				return
			}
		case e, ok := <-vadEvents:
			if !ok {
				vadEvents = nil
				continue
			}
			c.handleVAD(e)
		case e := <-regEvents:
			c.handlePeer(e)
		}
	}
}

func (c *Controller) handleSignaling(e signaling.Event) (done bool) {
	switch ev := e.(type) {
	case signaling.ClosedEvent:
		err := ev.Err
		if err == nil {
			err = core.NewNetworkError("signaling connection closed", nil)
		} else {
			err = core.NewNetworkError("signaling connection lost", err)
		}
		c.terminate(err)
		return true
	case signaling.MessageEvent:
		return c.apply(ev.Msg)
	default:
		return false
	}
}

// apply folds one inbound signaling message into session state.
func (c *Controller) apply(msg protocol.Message) (done bool) {
	switch m := msg.(type) {
	case protocol.RoomJoined:
		c.applyRoomJoined(m)
	case protocol.ParticipantJoined:
		c.addParticipant(m.Participant)
	case protocol.AIJoined:
		c.addParticipant(m.Participant)
	case protocol.ParticipantLeft:
		c.removeParticipant(m.ParticipantID)
	case protocol.ParticipantUpdated:
		c.updateParticipant(m.Participant)
	case protocol.Offer:
		c.applyOffer(m)
	case protocol.Answer:
		if err := c.reg.HandleAnswer(m.From, m.SDP); err != nil {
			c.logger.Warn("dropping answer", "from", m.From, "error", err)
		}
	case protocol.ICE:
		if err := c.reg.HandleICE(m.From, m.Candidate); err != nil {
			c.logger.Warn("dropping ice candidate", "from", m.From, "error", err)
		}
	case protocol.VoiceActivity:
		c.applyVoiceActivity(m)
	case protocol.ConversationMessage:
		c.applyConversation(m)
	case protocol.AIMessage:
		c.applyAISpeech(m.From, m.Text, nil, "", "")
	case protocol.AIVoiceMessage:
		audio, err := base64.StdEncoding.DecodeString(m.AudioB64)
		if err != nil {
			// Keep the words even when the audio payload is broken.
			c.logger.Warn("undecodable ai audio, falling back to text", "error", err)
			c.applyAISpeech(m.From, m.Text, nil, "", "")
			return false
		}
		c.applyAISpeech(m.From, m.Text, audio, m.AudioFormat, m.Voice)
	case protocol.AISpeakingFinished:
		c.applyAIFinished(m.From)
	case protocol.MeetingCompleted:
		c.applyCompleted(m)
		return true
	case protocol.ErrorMessage:
		c.logger.Warn("server error message", "code", m.Code, "message", m.Message, "param", m.Param)
	default:
		c.logger.Debug("ignoring signaling message", "message_type", msg.MessageType())
	}
	return false
}

func (c *Controller) applyRoomJoined(m protocol.RoomJoined) {
	c.mu.Lock()
	c.participants = make(map[string]*protocol.Participant, len(m.Participants))
	for i := range m.Participants {
		p := m.Participants[i]
		c.participants[p.ID] = &p
	}
	if m.Phase != "" {
		c.phase = m.Phase
	} else {
		c.phase = protocol.PhaseActive
	}
	c.state = StateActive
	phase := c.phase
	c.mu.Unlock()

	c.activeOnce.Do(func() { close(c.active) })
	c.emit(StateEvent{State: StateActive})
	c.emit(RosterEvent{Participants: c.roster()})
	c.emit(PhaseEvent{Phase: phase})

	// We are the newest joiner, so we offer to every human already in
	// the room; later arrivals offer to us.
	for _, p := range c.roster() {
		if p.ID == c.cfg.SelfID || p.Kind != protocol.KindHuman {
			continue
		}
		c.offerTo(p.ID)
	}
}

func (c *Controller) offerTo(participantID string) {
	offer, err := c.reg.Offer(participantID)
	if err != nil {
		c.logger.Warn("create offer", "to", participantID, "error", err)
		return
	}
	err = c.sig.Send(protocol.Offer{
		Type: protocol.TypeOffer,
		From: c.cfg.SelfID,
		To:   participantID,
		SDP:  offer,
	})
	if err != nil {
		c.logger.Warn("send offer", "to", participantID, "error", err)
	}
}

func (c *Controller) applyOffer(m protocol.Offer) {
	answer, err := c.reg.HandleOffer(m.From, m.SDP)
	if err != nil {
		c.logger.Warn("dropping offer", "from", m.From, "error", err)
		return
	}
	err = c.sig.Send(protocol.Answer{
		Type: protocol.TypeAnswer,
		From: c.cfg.SelfID,
		To:   m.From,
		SDP:  answer,
	})
	if err != nil {
		c.logger.Warn("send answer", "to", m.From, "error", err)
	}
}

func (c *Controller) addParticipant(p protocol.Participant) {
	c.mu.Lock()
	if p.Kind == protocol.KindAI {
		for _, existing := range c.participants {
			if existing.Kind == protocol.KindAI && existing.ID != p.ID {
				c.mu.Unlock()
				c.logger.Warn("dropping second ai participant", "participant_id", p.ID)
				return
			}
		}
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now().UTC()
	}
	stored := p
	c.participants[p.ID] = &stored
	c.mu.Unlock()
	c.emit(RosterEvent{Participants: c.roster()})
}

func (c *Controller) removeParticipant(id string) {
	c.mu.Lock()
	p, ok := c.participants[id]
	delete(c.participants, id)
	wasSpeaking := ok && p.Speaking
	speaker := c.currentSpeaker
	c.mu.Unlock()
	if !ok {
		return
	}
	c.reg.CloseLink(id)
	if wasSpeaking || speaker == id {
		c.recomputePhase(id)
	}
	c.emit(RosterEvent{Participants: c.roster()})
}

func (c *Controller) updateParticipant(p protocol.Participant) {
	c.mu.Lock()
	existing, ok := c.participants[p.ID]
	if ok {
		existing.DisplayName = p.DisplayName
		existing.Connected = p.Connected
		existing.Muted = p.Muted
		existing.Speaking = p.Speaking
		existing.AudioLevel = p.AudioLevel
	}
	c.mu.Unlock()
	if ok {
		c.emit(RosterEvent{Participants: c.roster()})
	}
}

func (c *Controller) applyVoiceActivity(m protocol.VoiceActivity) {
	c.mu.Lock()
	if p, ok := c.participants[m.From]; ok {
		p.Speaking = m.Speaking
		p.AudioLevel = m.AudioLevel
	}
	switch {
	case m.Phase != "":
		// The server arbitrates; trust its phase.
		c.phase = m.Phase
		c.currentSpeaker = m.CurrentSpeaker
	case m.Speaking:
		c.phase = protocol.PhaseHumanSpeaking
		c.currentSpeaker = m.From
	default:
		c.setIdlePhaseLocked(m.From)
	}
	phase, speaker := c.phase, c.currentSpeaker
	c.mu.Unlock()

	c.emit(PhaseEvent{Phase: phase, Speaker: speaker})
	c.emit(RosterEvent{Participants: c.roster()})
}

// setIdlePhaseLocked resets the phase to active when nobody is speaking
// anymore. Callers hold c.mu.
func (c *Controller) setIdlePhaseLocked(stopped string) {
	if c.currentSpeaker == stopped {
		c.currentSpeaker = ""
	}
	for _, p := range c.participants {
		if p.Speaking {
			if p.Kind == protocol.KindAI {
				c.phase = protocol.PhaseAISpeaking
			} else {
				c.phase = protocol.PhaseHumanSpeaking
			}
			c.currentSpeaker = p.ID
			return
		}
	}
	if c.selfSpeaking {
		c.phase = protocol.PhaseHumanSpeaking
		c.currentSpeaker = c.cfg.SelfID
		return
	}
	c.phase = protocol.PhaseActive
}

func (c *Controller) recomputePhase(stopped string) {
	c.mu.Lock()
	c.setIdlePhaseLocked(stopped)
	phase, speaker := c.phase, c.currentSpeaker
	c.mu.Unlock()
	c.emit(PhaseEvent{Phase: phase, Speaker: speaker})
}

func (c *Controller) applyConversation(m protocol.ConversationMessage) {
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	c.appendTranscript(Entry{
		SpeakerID:   m.From,
		SpeakerKind: m.SpeakerKind,
		Text:        m.Text,
		Timestamp:   ts,
		Confidence:  m.Confidence,
	})
}

// applyAISpeech handles ai_message and ai_voice_message: transcript,
// phase, VAD suppression, and (when audio is present) the playback queue.
func (c *Controller) applyAISpeech(from, text string, audio []byte, format, voice string) {
	if text != "" {
		c.appendTranscript(Entry{
			SpeakerID:   from,
			SpeakerKind: protocol.KindAI,
			Text:        text,
			Timestamp:   time.Now().UTC(),
		})
	}

	c.mu.Lock()
	c.phase = protocol.PhaseAISpeaking
	c.currentSpeaker = from
	if p, ok := c.participants[from]; ok {
		p.Speaking = true
	}
	c.mu.Unlock()

	if c.det != nil {
		c.det.SetSuppressed(true)
	}
	if len(audio) > 0 && c.queue != nil {
		c.queue.Enqueue(playback.Chunk{
			ID:     uuid.NewString(),
			Audio:  audio,
			Format: format,
			Voice:  voice,
			Text:   text,
		})
	}
	c.emit(PhaseEvent{Phase: protocol.PhaseAISpeaking, Speaker: from})
}

func (c *Controller) applyAIFinished(from string) {
	c.mu.Lock()
	if p, ok := c.participants[from]; ok {
		p.Speaking = false
	}
	c.setIdlePhaseLocked(from)
	phase, speaker := c.phase, c.currentSpeaker
	c.mu.Unlock()

	if c.det != nil {
		c.det.SetSuppressed(false)
	}
	c.emit(PhaseEvent{Phase: phase, Speaker: speaker})
}

func (c *Controller) applyCompleted(m protocol.MeetingCompleted) {
	c.mu.Lock()
	c.completed = true
	c.phase = protocol.PhaseCompleted
	c.mu.Unlock()

	c.emit(CompletedEvent{Analysis: m.Analysis, Summary: m.Summary})
	c.emit(PhaseEvent{Phase: protocol.PhaseCompleted})
}

func (c *Controller) handleVAD(e vad.Event) {
	switch ev := e.(type) {
	case vad.LevelEvent:
		c.mu.Lock()
		if self, ok := c.participants[c.cfg.SelfID]; ok && !self.Muted {
			self.AudioLevel = ev.Level
		}
		c.mu.Unlock()
	case vad.SpeechStartEvent:
		c.mu.Lock()
		self, ok := c.participants[c.cfg.SelfID]
		if ok && self.Muted {
			c.mu.Unlock()
			return
		}
		c.selfSpeaking = true
		if ok {
			self.Speaking = true
			self.AudioLevel = ev.Level
		}
		c.phase = protocol.PhaseHumanSpeaking
		c.currentSpeaker = c.cfg.SelfID
		c.mu.Unlock()

		c.sendVoiceActivity(true, ev.Level)
		c.emit(PhaseEvent{Phase: protocol.PhaseHumanSpeaking, Speaker: c.cfg.SelfID})
		c.emit(RosterEvent{Participants: c.roster()})
	case vad.SpeechEndEvent:
		if !c.isSelfSpeaking() {
			return
		}
		c.applySelfSpeechEnd()
	}
}

func (c *Controller) applySelfSpeechEnd() {
	c.mu.Lock()
	c.selfSpeaking = false
	if self, ok := c.participants[c.cfg.SelfID]; ok {
		self.Speaking = false
		self.AudioLevel = 0
	}
	c.setIdlePhaseLocked(c.cfg.SelfID)
	phase, speaker := c.phase, c.currentSpeaker
	c.mu.Unlock()

	c.sendVoiceActivity(false, 0)
	c.emit(PhaseEvent{Phase: phase, Speaker: speaker})
	c.emit(RosterEvent{Participants: c.roster()})
}

func (c *Controller) sendVoiceActivity(speaking bool, level float64) {
	err := c.sig.Send(protocol.VoiceActivity{
		Type:       protocol.TypeVoiceActivity,
		From:       c.cfg.SelfID,
		Speaking:   speaking,
		AudioLevel: level,
	})
	if err != nil {
		c.logger.Warn("send voice activity", "error", err)
	}
}

func (c *Controller) handlePeer(e peers.Event) {
	switch ev := e.(type) {
	case peers.LocalCandidateEvent:
		err := c.sig.Send(protocol.ICE{
			Type:      protocol.TypeICE,
			From:      c.cfg.SelfID,
			To:        ev.ParticipantID,
			Candidate: ev.Candidate,
		})
		if err != nil {
			c.logger.Warn("send ice candidate", "to", ev.ParticipantID, "error", err)
		}
	case peers.StateChangeEvent:
		c.mu.Lock()
		p, ok := c.participants[ev.ParticipantID]
		if ok {
			p.Connected = ev.State == webrtc.PeerConnectionStateConnected
		}
		c.mu.Unlock()
		c.logger.Debug("peer state", "participant_id", ev.ParticipantID, "state", ev.State.String())
		if ok {
			c.emit(RosterEvent{Participants: c.roster()})
		}
	case peers.RenegotiateEvent:
		c.offerTo(ev.ParticipantID)
	case peers.RemoteTrackEvent:
		c.logger.Debug("remote track", "participant_id", ev.ParticipantID)
	}
}

func (c *Controller) appendTranscript(e Entry) {
	c.mu.Lock()
	c.transcript = append(c.transcript, e)
	c.mu.Unlock()
	c.emit(TranscriptEvent{Entry: e})
}

func (c *Controller) isSelfSpeaking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selfSpeaking
}

func (c *Controller) roster() []protocol.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rosterLocked()
}

func (c *Controller) rosterLocked() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(c.participants))
	for _, p := range c.participants {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (c *Controller) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.emit(StateEvent{State: s, Err: err})
}

func (c *Controller) emit(e Event) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	if c.eventsClosed {
		return
	}
	select {
	case c.events <- e:
	default:
		// Never stall the session goroutine on a slow consumer.
		c.logger.Warn("session event dropped", "type", e.sessionEventType())
	}
}

func (c *Controller) closeEvents() {
	c.emitMu.Lock()
	c.eventsClosed = true
	close(c.events)
	c.emitMu.Unlock()
}

// playerOrDiscard returns the configured player or a discard sink, so
// ordering guarantees hold even without audio output.
func (c *Controller) playerOrDiscard() playback.Player {
	if c.cfg.Player != nil {
		return c.cfg.Player
	}
	return discardPlayer{}
}

type discardPlayer struct{}

func (discardPlayer) Play(ctx context.Context, _ playback.Chunk) error { return nil }

// runTeardownOnly finishes a session whose run loop never started.
func (c *Controller) runTeardownOnly() {
	c.finish()
}

// finish releases every resource exactly once and settles the terminal
// state. Failed joins, leaves and meeting completion all funnel here.
func (c *Controller) finish() {
	c.releaseOnce.Do(func() {
		c.cancel()

		c.mu.Lock()
		joinSent := c.joinSent
		completed := c.completed
		err := c.termErr
		c.mu.Unlock()

		// Best-effort goodbye before the socket goes away.
		if c.sig != nil && joinSent && !completed && err == nil {
			_ = c.sig.Send(protocol.Leave{Type: protocol.TypeLeave, From: c.cfg.SelfID})
		}
		if c.det != nil {
			c.det.Stop()
		}
		if c.queue != nil {
			_ = c.queue.Close()
		}
		if c.reg != nil {
			_ = c.reg.Close()
		}
		if c.sig != nil {
			_ = c.sig.Close()
		}
		if c.stream != nil {
			_ = c.stream.Close()
		}

		final := StateEnded
		if err != nil {
			final = StateFailed
		}
		c.mu.Lock()
		c.state = final
		if completed {
			c.phase = protocol.PhaseCompleted
		}
		c.mu.Unlock()

		c.emit(StateEvent{State: final, Err: err})
		c.closeEvents()
		close(c.done)
	})
}

func asMediaErr(err error) error {
	if core.TypeOf(err) != "" {
		return err
	}
	return core.NewMediaError("acquire local media", err)
}
