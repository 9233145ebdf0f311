// Package rooms is the server side of a meeting: the roster, the
// arbitrated conversation phase and the relay rules connecting
// participants. A Hub owns every live Room. Each Room serializes all
// mutation behind one mutex and pushes encoded frames to members
// through their Outbound, never blocking on a slow socket. A member
// whose outbound queue overflows is dropped from the room.
package rooms

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

var (
	ErrRoomClosed  = errors.New("room closed")
	ErrRoomFull    = errors.New("room full")
	ErrDuplicateID = errors.New("participant id already joined")
	ErrAIPresent   = errors.New("room already has an ai participant")
)

// Outbound delivers encoded frames to one room member. The room calls
// both methods under its own lock, but implementations must tolerate
// concurrent callers: drain notices arrive from outside the room.
type Outbound interface {
	// Deliver queues one frame without blocking; false reports the
	// frame was dropped.
	Deliver(data []byte) bool

	// Close tells the member the room is done with it. A non-empty
	// code names the reason (eviction, shutdown) for the goodbye
	// frame. Called at most once, after the member left the roster.
	Close(code, message string)
}

type member struct {
	p   protocol.Participant
	out Outbound
}

// Room is one live meeting.
type Room struct {
	ID string

	hub        *Hub
	logger     *slog.Logger
	maxMembers int

	mu             sync.Mutex
	members        map[string]*member
	phase          protocol.Phase
	currentSpeaker string
	closed         bool
}

func newRoom(id string, h *Hub) *Room {
	return &Room{
		ID:         id,
		hub:        h,
		logger:     h.logger.With("room_id", id),
		maxMembers: h.cfg.MaxParticipantsPerRoom,
		members:    make(map[string]*member),
		phase:      protocol.PhaseWaiting,
	}
}

// Join adds p to the roster, replies with the room_joined snapshot and
// announces the arrival to everyone else.
func (r *Room) Join(p protocol.Participant, out Outbound) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.members[p.ID]; ok {
		return ErrDuplicateID
	}
	if p.Kind == protocol.KindAI && r.aiIDLocked() != "" {
		return ErrAIPresent
	}
	if len(r.members) >= r.maxMembers {
		return ErrRoomFull
	}

	if p.Kind == "" {
		p.Kind = protocol.KindHuman
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	p.Connected = true
	p.Speaking = false
	r.members[p.ID] = &member{p: p, out: out}

	if len(r.members) > 1 && r.phase == protocol.PhaseWaiting {
		r.phase = protocol.PhaseActive
	}

	r.sendLocked(p.ID, protocol.RoomJoined{
		Type:         protocol.TypeRoomJoined,
		RoomID:       r.ID,
		SelfID:       p.ID,
		Participants: r.participantsLocked(),
		Phase:        r.phase,
	})
	if p.Kind == protocol.KindAI {
		r.broadcastLocked(p.ID, protocol.AIJoined{Type: protocol.TypeAIJoined, Participant: p})
	} else {
		r.broadcastLocked(p.ID, protocol.ParticipantJoined{Type: protocol.TypeParticipantJoined, Participant: p})
	}
	r.logger.Info("participant joined", "participant_id", p.ID, "kind", p.Kind, "room_size", len(r.members))
	return nil
}

// Leave removes id from the roster. Safe to call twice; disconnect and
// an explicit leave frame both land here.
func (r *Room) Leave(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removeLocked(id, "", "")
}

// Close evicts everyone and retires the room.
func (r *Room) Close(code, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeLocked(code, message)
}

// HandleMessage applies one inbound frame from the named member.
// Unknown senders and frames that only the server may originate are
// dropped.
func (r *Room) HandleMessage(from string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[from]
	if !ok || r.closed {
		return
	}

	switch msg := msg.(type) {
	case protocol.Join:
		r.sendErrorLocked(from, "already_joined", "join already completed", "")

	case protocol.Leave:
		r.removeLocked(from, "", "")

	case protocol.Offer:
		msg.From = from
		r.relayLocked(from, msg.To, msg)

	case protocol.Answer:
		msg.From = from
		r.relayLocked(from, msg.To, msg)

	case protocol.ICE:
		msg.From = from
		r.relayLocked(from, msg.To, msg)

	case protocol.VoiceActivity:
		r.applyVoiceLocked(m, msg)

	case protocol.ConversationMessage:
		msg.From = from
		msg.SpeakerKind = m.p.Kind
		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		r.broadcastLocked(from, msg)

	case protocol.AIMessage:
		if !r.requireAILocked(m, msg.MessageType()) {
			return
		}
		msg.From = from
		r.aiSpeakingLocked(m)
		r.broadcastLocked(from, msg)

	case protocol.AIVoiceMessage:
		if !r.requireAILocked(m, msg.MessageType()) {
			return
		}
		msg.From = from
		r.aiSpeakingLocked(m)
		r.broadcastLocked(from, msg)

	case protocol.AISpeakingFinished:
		if !r.requireAILocked(m, msg.MessageType()) {
			return
		}
		msg.From = from
		m.p.Speaking = false
		m.p.AudioLevel = 0
		r.recomputeSpeakerLocked()
		r.broadcastLocked(from, msg)

	case protocol.MeetingCompleted:
		if !r.requireAILocked(m, msg.MessageType()) {
			return
		}
		r.phase = protocol.PhaseCompleted
		r.currentSpeaker = ""
		r.broadcastLocked(from, msg)
		r.logger.Info("meeting completed", "participants", len(r.members))
		r.closeLocked("", "")

	default:
		r.logger.Warn("dropping unexpected message from client",
			"participant_id", from, "message_type", msg.MessageType())
	}
}

// Participants returns a roster snapshot ordered by join time.
func (r *Room) Participants() []protocol.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.participantsLocked()
}

// Phase reports the arbitrated conversation phase.
func (r *Room) Phase() protocol.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// Size reports the roster size; zero once the room retired.
func (r *Room) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.members)
}

// applyVoiceLocked folds one voice_activity report into the roster and
// the room phase, then rebroadcasts it stamped with both. A human
// starting to speak claims the floor unless the AI holds it; the floor
// is recomputed when its holder goes quiet.
func (r *Room) applyVoiceLocked(m *member, msg protocol.VoiceActivity) {
	if m.p.Kind == protocol.KindAI {
		r.logger.Warn("ignoring voice_activity from ai participant", "participant_id", m.p.ID)
		return
	}
	from := m.p.ID
	msg.From = from
	m.p.Speaking = msg.Speaking
	m.p.AudioLevel = msg.AudioLevel

	if r.phase != protocol.PhaseWaiting && r.phase != protocol.PhaseCompleted {
		if msg.Speaking {
			if r.phase != protocol.PhaseAISpeaking {
				r.phase = protocol.PhaseHumanSpeaking
				r.currentSpeaker = from
			}
		} else if r.currentSpeaker == from {
			r.recomputeSpeakerLocked()
		}
	}

	msg.Phase = r.phase
	msg.CurrentSpeaker = r.currentSpeaker
	r.broadcastLocked(from, msg)
}

func (r *Room) aiSpeakingLocked(m *member) {
	if r.phase == protocol.PhaseCompleted {
		return
	}
	m.p.Speaking = true
	r.phase = protocol.PhaseAISpeaking
	r.currentSpeaker = m.p.ID
}

// recomputeSpeakerLocked picks the next floor holder after the current
// one went quiet or left: a still-speaking AI first, then any speaking
// human, otherwise nobody.
func (r *Room) recomputeSpeakerLocked() {
	if r.phase == protocol.PhaseCompleted {
		return
	}
	for id, m := range r.members {
		if m.p.Speaking && m.p.Kind == protocol.KindAI {
			r.phase = protocol.PhaseAISpeaking
			r.currentSpeaker = id
			return
		}
	}
	for id, m := range r.members {
		if m.p.Speaking {
			r.phase = protocol.PhaseHumanSpeaking
			r.currentSpeaker = id
			return
		}
	}
	r.currentSpeaker = ""
	if len(r.members) > 1 {
		r.phase = protocol.PhaseActive
	} else {
		r.phase = protocol.PhaseWaiting
	}
}

// relayLocked forwards one negotiation frame to its target only.
func (r *Room) relayLocked(from, to string, msg protocol.Message) {
	target, ok := r.members[to]
	if !ok {
		r.logger.Debug("dropping frame for unknown target",
			"participant_id", from, "target", to, "message_type", msg.MessageType())
		r.sendErrorLocked(from, "target_not_found", "no such participant", to)
		return
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal relay frame", "error", err)
		return
	}
	if !target.out.Deliver(data) {
		r.dropSlowLocked(to)
	}
}

func (r *Room) requireAILocked(m *member, msgType string) bool {
	if m.p.Kind == protocol.KindAI {
		return true
	}
	r.logger.Warn("dropping ai-only message from human participant",
		"participant_id", m.p.ID, "message_type", msgType)
	return false
}

func (r *Room) sendLocked(to string, msg protocol.Message) {
	m, ok := r.members[to]
	if !ok {
		return
	}
	data, err := protocol.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal room frame", "error", err)
		return
	}
	if !m.out.Deliver(data) {
		r.dropSlowLocked(to)
	}
}

func (r *Room) sendErrorLocked(to, code, message, param string) {
	r.sendLocked(to, protocol.ErrorMessage{Type: protocol.TypeError, Code: code, Message: message, Param: param})
}

func (r *Room) broadcastLocked(exclude string, msg protocol.Message) {
	data, err := protocol.Marshal(msg)
	if err != nil {
		r.logger.Error("marshal room broadcast", "error", err)
		return
	}
	var slow []string
	for id, m := range r.members {
		if id == exclude {
			continue
		}
		if !m.out.Deliver(data) {
			slow = append(slow, id)
		}
	}
	for _, id := range slow {
		r.dropSlowLocked(id)
	}
}

func (r *Room) dropSlowLocked(id string) {
	if _, ok := r.members[id]; !ok {
		return
	}
	r.logger.Warn("dropping slow meeting connection", "participant_id", id)
	r.removeLocked(id, "slow_consumer", "outbound queue overflowed")
}

func (r *Room) removeLocked(id, code, message string) {
	m, ok := r.members[id]
	if !ok {
		return
	}
	delete(r.members, id)
	m.out.Close(code, message)
	r.logger.Info("participant left", "participant_id", id, "room_size", len(r.members))

	if len(r.members) == 0 {
		r.closeLocked("", "")
		return
	}
	r.broadcastLocked("", protocol.ParticipantLeft{Type: protocol.TypeParticipantLeft, ParticipantID: id})
	if r.currentSpeaker == id || m.p.Speaking {
		r.recomputeSpeakerLocked()
	}
}

func (r *Room) closeLocked(code, message string) {
	if r.closed {
		return
	}
	r.closed = true
	for id, m := range r.members {
		delete(r.members, id)
		m.out.Close(code, message)
	}
	if r.hub != nil {
		r.hub.remove(r.ID, r)
	}
	r.logger.Info("room retired")
}

func (r *Room) aiIDLocked() string {
	for id, m := range r.members {
		if m.p.Kind == protocol.KindAI {
			return id
		}
	}
	return ""
}

func (r *Room) participantsLocked() []protocol.Participant {
	out := make([]protocol.Participant, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
