// Package peers manages the WebRTC links of one meeting session: one
// peer connection per remote human participant, negotiated over the
// signaling channel. The newest joiner offers; existing participants
// answer. AI participants never get a link, their audio arrives
// pre-rendered over signaling.
package peers

import (
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
)

// Event is emitted by Registry.Events().
type Event interface {
	peerEventType() string
}

// LocalCandidateEvent carries a locally gathered ICE candidate to relay
// to the given participant. An empty candidate marks end of candidates.
type LocalCandidateEvent struct {
	ParticipantID string
	Candidate     webrtc.ICECandidateInit
}

func (e LocalCandidateEvent) peerEventType() string { return "local_candidate" }

// StateChangeEvent reports a link's connection state transition.
type StateChangeEvent struct {
	ParticipantID string
	State         webrtc.PeerConnectionState
}

func (e StateChangeEvent) peerEventType() string { return "state_change" }

// RemoteTrackEvent reports inbound audio from a remote participant.
type RemoteTrackEvent struct {
	ParticipantID string
	Track         *webrtc.TrackRemote
}

func (e RemoteTrackEvent) peerEventType() string { return "remote_track" }

// RenegotiateEvent asks the owner to send a fresh offer to the given
// participant, e.g. after a track was attached to an established link.
type RenegotiateEvent struct {
	ParticipantID string
}

func (e RenegotiateEvent) peerEventType() string { return "renegotiate" }

// conn is the subset of *webrtc.PeerConnection the registry uses.
// Narrowed for tests.
type conn interface {
	CreateOffer(*webrtc.OfferOptions) (webrtc.SessionDescription, error)
	CreateAnswer(*webrtc.AnswerOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	AddTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	OnICECandidate(func(*webrtc.ICECandidate))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	Close() error
}

// Config tunes the registry.
type Config struct {
	// ICEServers for candidate gathering. Default: Google STUN.
	ICEServers []webrtc.ICEServer

	// Logger for negotiation diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

const eventBuffer = 256

// Registry owns every peer link of one session, keyed by participant id.
// All methods are safe for concurrent use.
type Registry struct {
	cfg     Config
	logger  *slog.Logger
	newConn func() (conn, error)

	mu     sync.Mutex
	links  map[string]*link
	track  webrtc.TrackLocal
	closed bool

	events chan Event
	done   chan struct{}
	once   sync.Once
}

type link struct {
	id string

	mu        sync.Mutex
	pc        conn
	remoteSet bool
	localSet  bool
	trackOn   bool
	pending   []webrtc.ICECandidateInit
	closed    bool
}

// NewRegistry builds a registry. Links are created lazily per participant.
func NewRegistry(cfg Config) *Registry {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	}
	r := &Registry{
		cfg:    cfg,
		logger: cfg.Logger,
		links:  make(map[string]*link),
		events: make(chan Event, eventBuffer),
		done:   make(chan struct{}),
	}
	r.newConn = func() (conn, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: cfg.ICEServers})
		if err != nil {
			return nil, err
		}
		return pc, nil
	}
	return r
}

// Events returns the registry's event channel. It is never closed; after
// Close no further events arrive.
func (r *Registry) Events() <-chan Event { return r.events }

// Count returns the number of open links.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.links)
}

// Has reports whether a link exists for the participant.
func (r *Registry) Has(participantID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.links[participantID]
	return ok
}

// SetLocalTrack attaches the local audio track to every current and
// future link. Links that are already negotiated get the track added and
// a RenegotiateEvent so the owner can re-offer; audio is never silently
// omitted.
func (r *Registry) SetLocalTrack(t webrtc.TrackLocal) {
	r.mu.Lock()
	r.track = t
	links := make([]*link, 0, len(r.links))
	for _, l := range r.links {
		links = append(links, l)
	}
	r.mu.Unlock()

	if t == nil {
		return
	}
	for _, l := range links {
		renegotiate, err := l.attachTrack(t)
		if err != nil {
			r.logger.Warn("attach local track", "participant_id", l.id, "error", err)
			continue
		}
		if renegotiate {
			r.emit(RenegotiateEvent{ParticipantID: l.id})
		}
	}
}

// Offer creates (or reuses) the link for a participant and produces a
// local offer to relay to them. The registry's local track, when set,
// rides the offer.
func (r *Registry) Offer(participantID string) (webrtc.SessionDescription, error) {
	l, err := r.ensureLink(participantID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	return l.offer(r.localTrack())
}

// HandleOffer applies a remote offer, creating the link if absent, and
// returns the local answer to relay back to the offering participant.
// ICE candidates buffered before the offer are flushed in arrival order.
func (r *Registry) HandleOffer(participantID string, sdp webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	l, err := r.ensureLink(participantID)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	answer, flushErrs, err := l.answer(sdp, r.localTrack())
	r.logFlush(participantID, flushErrs)
	return answer, err
}

// HandleAnswer applies a remote answer to a link this registry offered.
// An answer for an unknown participant is a protocol error.
func (r *Registry) HandleAnswer(participantID string, sdp webrtc.SessionDescription) error {
	r.mu.Lock()
	l, ok := r.links[participantID]
	r.mu.Unlock()
	if !ok {
		return core.NewProtocolError("answer from unknown participant", "participant_id")
	}
	flushErrs, err := l.acceptAnswer(sdp)
	r.logFlush(participantID, flushErrs)
	return err
}

// HandleICE applies a remote ICE candidate. Candidates arriving before
// the participant's session description are buffered and flushed, in
// order, once the description is applied. An empty candidate (end of
// candidates) is ignored.
func (r *Registry) HandleICE(participantID string, cand webrtc.ICECandidateInit) error {
	if cand.Candidate == "" {
		return nil
	}
	l, err := r.ensureLink(participantID)
	if err != nil {
		return err
	}
	return l.addICE(cand)
}

// CloseLink tears down one participant's link. Closing an absent or
// already-closed link is a no-op.
func (r *Registry) CloseLink(participantID string) {
	r.mu.Lock()
	l, ok := r.links[participantID]
	delete(r.links, participantID)
	r.mu.Unlock()
	if ok {
		l.close(r.logger)
	}
}

// CloseAll tears down every link. Idempotent; the registry stays usable.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	links := r.links
	r.links = make(map[string]*link)
	r.mu.Unlock()
	for _, l := range links {
		l.close(r.logger)
	}
}

// Close tears down every link and stops event delivery. Idempotent.
func (r *Registry) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()
		close(r.done)
	})
	r.CloseAll()
	return nil
}

func (r *Registry) localTrack() webrtc.TrackLocal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.track
}

func (r *Registry) ensureLink(participantID string) (*link, error) {
	if participantID == "" {
		return nil, core.NewProtocolError("participant id required", "participant_id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, core.NewInternalError("peer registry closed", nil)
	}
	if l, ok := r.links[participantID]; ok {
		return l, nil
	}
	pc, err := r.newConn()
	if err != nil {
		return nil, core.NewNetworkError("create peer connection", err)
	}
	l := &link{id: participantID, pc: pc}
	r.links[participantID] = l

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		ev := LocalCandidateEvent{ParticipantID: participantID}
		if c != nil {
			ev.Candidate = c.ToJSON()
		}
		r.emit(ev)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		r.emit(StateChangeEvent{ParticipantID: participantID, State: state})
	})
	pc.OnTrack(func(t *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.emit(RemoteTrackEvent{ParticipantID: participantID, Track: t})
	})
	return l, nil
}

func (r *Registry) emit(e Event) {
	select {
	case <-r.done:
		return
	default:
	}
	select {
	case r.events <- e:
	default:
		// Do not block pion callbacks if the owner stops consuming.
		r.logger.Warn("peer event dropped", "type", e.peerEventType())
	}
}

func (r *Registry) logFlush(participantID string, errs []error) {
	for _, err := range errs {
		r.logger.Warn("apply buffered ice candidate", "participant_id", participantID, "error", err)
	}
}

// attachTrack adds the local track if missing. It reports whether the
// link was already negotiated and therefore needs a fresh offer.
func (l *link) attachTrack(t webrtc.TrackLocal) (renegotiate bool, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed || l.trackOn {
		return false, nil
	}
	if _, err := l.pc.AddTrack(t); err != nil {
		return false, err
	}
	l.trackOn = true
	return l.localSet || l.remoteSet, nil
}

func (l *link) offer(t webrtc.TrackLocal) (webrtc.SessionDescription, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return webrtc.SessionDescription{}, core.NewNetworkError("peer link closed", nil)
	}
	if t != nil && !l.trackOn {
		if _, err := l.pc.AddTrack(t); err != nil {
			return webrtc.SessionDescription{}, core.NewNetworkError("add local track", err)
		}
		l.trackOn = true
	}
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, core.NewNetworkError("create offer", err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, core.NewNetworkError("set local description", err)
	}
	l.localSet = true
	return offer, nil
}

func (l *link) answer(remote webrtc.SessionDescription, t webrtc.TrackLocal) (webrtc.SessionDescription, []error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return webrtc.SessionDescription{}, nil, core.NewNetworkError("peer link closed", nil)
	}
	if t != nil && !l.trackOn {
		if _, err := l.pc.AddTrack(t); err != nil {
			return webrtc.SessionDescription{}, nil, core.NewNetworkError("add local track", err)
		}
		l.trackOn = true
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return webrtc.SessionDescription{}, nil, core.NewNetworkError("set remote description", err)
	}
	l.remoteSet = true
	flushErrs := l.flushPendingLocked()
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, flushErrs, core.NewNetworkError("create answer", err)
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, flushErrs, core.NewNetworkError("set local description", err)
	}
	l.localSet = true
	return answer, flushErrs, nil
}

func (l *link) acceptAnswer(remote webrtc.SessionDescription) ([]error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, core.NewNetworkError("peer link closed", nil)
	}
	if !l.localSet {
		return nil, core.NewProtocolError("answer before offer", "")
	}
	if err := l.pc.SetRemoteDescription(remote); err != nil {
		return nil, core.NewNetworkError("set remote description", err)
	}
	l.remoteSet = true
	return l.flushPendingLocked(), nil
}

func (l *link) addICE(cand webrtc.ICECandidateInit) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	if !l.remoteSet {
		l.pending = append(l.pending, cand)
		return nil
	}
	if err := l.pc.AddICECandidate(cand); err != nil {
		return core.NewNetworkError("add ice candidate", err)
	}
	return nil
}

// flushPendingLocked applies buffered candidates in arrival order.
// Callers hold l.mu.
func (l *link) flushPendingLocked() []error {
	var errs []error
	for _, cand := range l.pending {
		if err := l.pc.AddICECandidate(cand); err != nil {
			errs = append(errs, err)
		}
	}
	l.pending = nil
	return errs
}

func (l *link) close(logger *slog.Logger) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.closed = true
	l.pending = nil
	if err := l.pc.Close(); err != nil {
		logger.Warn("close peer connection", "participant_id", l.id, "error", err)
	}
}
