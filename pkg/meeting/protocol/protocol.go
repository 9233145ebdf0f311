// Package protocol defines the signaling wire messages exchanged between
// meeting participants and the room gateway. Frames are JSON text with a
// `type` discriminator plus `from` and, for targeted peer messages, `to`.
package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Message type discriminators.
const (
	TypeJoin                = "join"
	TypeLeave               = "leave"
	TypeOffer               = "offer"
	TypeAnswer              = "answer"
	TypeICE                 = "ice"
	TypeVoiceActivity       = "voice_activity"
	TypeConversationMessage = "conversation_message"

	TypeRoomJoined         = "room_joined"
	TypeParticipantJoined  = "participant_joined"
	TypeParticipantLeft    = "participant_left"
	TypeParticipantUpdated = "participant_updated"
	TypeAIJoined           = "ai_joined"
	TypeAIMessage          = "ai_message"
	TypeAIVoiceMessage     = "ai_voice_message"
	TypeAISpeakingFinished = "ai_speaking_finished"
	TypeMeetingCompleted   = "meeting_completed"
	TypeError              = "error"
)

// ParticipantKind distinguishes humans from the AI agent.
type ParticipantKind string

const (
	KindHuman ParticipantKind = "human"
	KindAI    ParticipantKind = "ai"
)

// Phase is the single room-wide conversation phase.
type Phase string

const (
	PhaseWaiting       Phase = "waiting"
	PhaseActive        Phase = "active"
	PhaseHumanSpeaking Phase = "human_speaking"
	PhaseAISpeaking    Phase = "ai_speaking"
	PhaseCompleted     Phase = "completed"
)

// Audio format tags carried by ai_voice_message.
const (
	AudioFormatMP3     = "mp3"
	AudioFormatPCM16LE = "pcm_s16le"
)

// Participant is the wire shape of a roster entry. The same struct backs the
// in-memory roster on both ends.
type Participant struct {
	ID          string          `json:"id"`
	DisplayName string          `json:"display_name"`
	Kind        ParticipantKind `json:"kind"`
	Connected   bool            `json:"connected"`
	Muted       bool            `json:"muted"`
	Speaking    bool            `json:"speaking"`
	AudioLevel  float64         `json:"audio_level"`
	JoinedAt    time.Time       `json:"joined_at"`
}

// DecodeError reports a frame that failed validation.
type DecodeError struct {
	Code    string
	Message string
	Param   string
}

func (e *DecodeError) Error() string {
	if e == nil {
		return ""
	}
	if strings.TrimSpace(e.Param) == "" {
		return e.Message
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Param)
}

func badRequest(message, param string) *DecodeError {
	return &DecodeError{Code: "bad_request", Message: message, Param: param}
}

// Message is implemented by every signaling frame.
type Message interface {
	MessageType() string
}

// Join is the first frame a participant sends after the socket opens.
type Join struct {
	Type        string          `json:"type"`
	From        string          `json:"from"`
	DisplayName string          `json:"display_name"`
	Kind        ParticipantKind `json:"kind"`
	Muted       bool            `json:"muted,omitempty"`
}

func (Join) MessageType() string { return TypeJoin }

// Leave announces an orderly departure.
type Leave struct {
	Type string `json:"type"`
	From string `json:"from"`
}

func (Leave) MessageType() string { return TypeLeave }

// Offer carries a session description to one remote participant.
type Offer struct {
	Type string                    `json:"type"`
	From string                    `json:"from"`
	To   string                    `json:"to"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

func (Offer) MessageType() string { return TypeOffer }

// Answer responds to an Offer, targeted back at the offerer.
type Answer struct {
	Type string                    `json:"type"`
	From string                    `json:"from"`
	To   string                    `json:"to"`
	SDP  webrtc.SessionDescription `json:"sdp"`
}

func (Answer) MessageType() string { return TypeAnswer }

// ICE relays one ICE candidate to one remote participant. An empty candidate
// string signals end-of-candidates.
type ICE struct {
	Type      string                  `json:"type"`
	From      string                  `json:"from"`
	To        string                  `json:"to"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func (ICE) MessageType() string { return TypeICE }

// VoiceActivity reports local speech state. The gateway rebroadcasts it to
// the rest of the room with the arbitrated phase and current speaker filled.
type VoiceActivity struct {
	Type           string  `json:"type"`
	From           string  `json:"from"`
	Speaking       bool    `json:"speaking"`
	AudioLevel     float64 `json:"audio_level"`
	Phase          Phase   `json:"phase,omitempty"`
	CurrentSpeaker string  `json:"current_speaker,omitempty"`
}

func (VoiceActivity) MessageType() string { return TypeVoiceActivity }

// ConversationMessage is one transcript line.
type ConversationMessage struct {
	Type        string          `json:"type"`
	From        string          `json:"from"`
	SpeakerKind ParticipantKind `json:"speaker_kind"`
	Text        string          `json:"text"`
	Timestamp   time.Time       `json:"timestamp"`
	Confidence  *float64        `json:"confidence,omitempty"`
}

func (ConversationMessage) MessageType() string { return TypeConversationMessage }

// RoomJoined confirms a join and carries the authoritative roster snapshot.
type RoomJoined struct {
	Type         string        `json:"type"`
	RoomID       string        `json:"room_id"`
	SelfID       string        `json:"self_id"`
	Participants []Participant `json:"participants"`
	Phase        Phase         `json:"phase"`
}

func (RoomJoined) MessageType() string { return TypeRoomJoined }

// ParticipantJoined announces one new roster entry.
type ParticipantJoined struct {
	Type        string      `json:"type"`
	Participant Participant `json:"participant"`
}

func (ParticipantJoined) MessageType() string { return TypeParticipantJoined }

// ParticipantLeft announces one departure.
type ParticipantLeft struct {
	Type          string `json:"type"`
	ParticipantID string `json:"participant_id"`
}

func (ParticipantLeft) MessageType() string { return TypeParticipantLeft }

// ParticipantUpdated announces a mute/speaking/level change.
type ParticipantUpdated struct {
	Type        string      `json:"type"`
	Participant Participant `json:"participant"`
}

func (ParticipantUpdated) MessageType() string { return TypeParticipantUpdated }

// AIJoined announces the AI agent entering the room.
type AIJoined struct {
	Type        string      `json:"type"`
	Participant Participant `json:"participant"`
}

func (AIJoined) MessageType() string { return TypeAIJoined }

// AIMessage is AI speech as text only, used when synthesis is unavailable.
type AIMessage struct {
	Type string `json:"type"`
	From string `json:"from"`
	Text string `json:"text"`
}

func (AIMessage) MessageType() string { return TypeAIMessage }

// AIVoiceMessage is AI speech with synthesized audio attached.
type AIVoiceMessage struct {
	Type        string `json:"type"`
	From        string `json:"from"`
	Text        string `json:"text"`
	AudioB64    string `json:"audio"`
	AudioFormat string `json:"audio_format"`
	Voice       string `json:"voice,omitempty"`
}

func (AIVoiceMessage) MessageType() string { return TypeAIVoiceMessage }

// AISpeakingFinished marks the end of the AI's current utterance.
type AISpeakingFinished struct {
	Type string `json:"type"`
	From string `json:"from"`
}

func (AISpeakingFinished) MessageType() string { return TypeAISpeakingFinished }

// MeetingCompleted ends the meeting. The analysis payload is opaque to the
// meeting core and handed to the embedding application as-is.
type MeetingCompleted struct {
	Type     string          `json:"type"`
	Analysis json.RawMessage `json:"analysis,omitempty"`
	Summary  string          `json:"summary,omitempty"`
}

func (MeetingCompleted) MessageType() string { return TypeMeetingCompleted }

// ErrorMessage reports a protocol-level failure to the peer.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

func (ErrorMessage) MessageType() string { return TypeError }

// Unknown stands in for an unrecognized message type. Receivers log and drop
// it; it is never a decode failure so future message types cannot kill
// established sessions.
type Unknown struct {
	TypeName string
}

func (Unknown) MessageType() string { return "" }

// Marshal encodes msg for the wire.
func Marshal(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Decode parses one inbound frame into its typed message. Invalid JSON,
// a missing type, or a known type failing validation returns a *DecodeError;
// unrecognized types return Unknown with no error.
func Decode(data []byte) (Message, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, badRequest("invalid json frame", "")
	}
	typ := strings.TrimSpace(envelope.Type)
	if typ == "" {
		return nil, badRequest("missing type", "type")
	}

	switch typ {
	case TypeJoin:
		var msg Join
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid join", "")
		}
		if strings.TrimSpace(msg.From) == "" {
			return nil, badRequest("join.from is required", "from")
		}
		if strings.TrimSpace(msg.DisplayName) == "" {
			return nil, badRequest("join.display_name is required", "display_name")
		}
		switch msg.Kind {
		case KindHuman, KindAI:
		default:
			return nil, badRequest("join.kind must be human or ai", "kind")
		}
		return msg, nil
	case TypeLeave:
		var msg Leave
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid leave", "")
		}
		return msg, nil
	case TypeOffer:
		var msg Offer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid offer", "")
		}
		if strings.TrimSpace(msg.To) == "" {
			return nil, badRequest("offer.to is required", "to")
		}
		if strings.TrimSpace(msg.SDP.SDP) == "" {
			return nil, badRequest("offer.sdp is required", "sdp")
		}
		return msg, nil
	case TypeAnswer:
		var msg Answer
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid answer", "")
		}
		if strings.TrimSpace(msg.To) == "" {
			return nil, badRequest("answer.to is required", "to")
		}
		if strings.TrimSpace(msg.SDP.SDP) == "" {
			return nil, badRequest("answer.sdp is required", "sdp")
		}
		return msg, nil
	case TypeICE:
		var msg ICE
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ice", "")
		}
		if strings.TrimSpace(msg.To) == "" {
			return nil, badRequest("ice.to is required", "to")
		}
		return msg, nil
	case TypeVoiceActivity:
		var msg VoiceActivity
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid voice_activity", "")
		}
		if msg.AudioLevel < 0 || msg.AudioLevel > 1 {
			return nil, badRequest("voice_activity.audio_level must be within [0,1]", "audio_level")
		}
		return msg, nil
	case TypeConversationMessage:
		var msg ConversationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid conversation_message", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("conversation_message.text is required", "text")
		}
		return msg, nil
	case TypeRoomJoined:
		var msg RoomJoined
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid room_joined", "")
		}
		if strings.TrimSpace(msg.RoomID) == "" {
			return nil, badRequest("room_joined.room_id is required", "room_id")
		}
		return msg, nil
	case TypeParticipantJoined:
		var msg ParticipantJoined
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid participant_joined", "")
		}
		if strings.TrimSpace(msg.Participant.ID) == "" {
			return nil, badRequest("participant_joined.participant.id is required", "participant.id")
		}
		return msg, nil
	case TypeParticipantLeft:
		var msg ParticipantLeft
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid participant_left", "")
		}
		if strings.TrimSpace(msg.ParticipantID) == "" {
			return nil, badRequest("participant_left.participant_id is required", "participant_id")
		}
		return msg, nil
	case TypeParticipantUpdated:
		var msg ParticipantUpdated
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid participant_updated", "")
		}
		if strings.TrimSpace(msg.Participant.ID) == "" {
			return nil, badRequest("participant_updated.participant.id is required", "participant.id")
		}
		return msg, nil
	case TypeAIJoined:
		var msg AIJoined
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ai_joined", "")
		}
		if strings.TrimSpace(msg.Participant.ID) == "" {
			return nil, badRequest("ai_joined.participant.id is required", "participant.id")
		}
		return msg, nil
	case TypeAIMessage:
		var msg AIMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ai_message", "")
		}
		if strings.TrimSpace(msg.Text) == "" {
			return nil, badRequest("ai_message.text is required", "text")
		}
		return msg, nil
	case TypeAIVoiceMessage:
		var msg AIVoiceMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ai_voice_message", "")
		}
		if strings.TrimSpace(msg.AudioB64) == "" {
			return nil, badRequest("ai_voice_message.audio is required", "audio")
		}
		if strings.TrimSpace(msg.AudioFormat) == "" {
			return nil, badRequest("ai_voice_message.audio_format is required", "audio_format")
		}
		return msg, nil
	case TypeAISpeakingFinished:
		var msg AISpeakingFinished
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid ai_speaking_finished", "")
		}
		return msg, nil
	case TypeMeetingCompleted:
		var msg MeetingCompleted
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid meeting_completed", "")
		}
		return msg, nil
	case TypeError:
		var msg ErrorMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, badRequest("invalid error", "")
		}
		return msg, nil
	default:
		return Unknown{TypeName: typ}, nil
	}
}
