package handlers

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/auth"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/config"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/lifecycle"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/principal"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/ratelimit"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/sessions"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

// MeetingHandler upgrades /v1/meetings/{room}/ws and runs the socket for one
// participant. Auth and admission control happen before the upgrade so
// rejected callers get a plain HTTP status the dialer can report; everything
// after the upgrade is signaled as an error frame followed by a close.
type MeetingHandler struct {
	Config    config.Config
	Logger    *slog.Logger
	Hub       *rooms.Hub
	Verifier  *auth.Verifier
	Limiter   *ratelimit.Limiter
	Lifecycle *lifecycle.Lifecycle
	Sessions  *sessions.Tracker
}

func (h MeetingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorJSON(w, r, http.StatusMethodNotAllowed, &core.Error{
			Type: core.ErrProtocol, Message: "method not allowed", Code: "method_not_allowed",
		})
		return
	}

	roomID := strings.TrimSpace(r.PathValue("room"))
	if roomID == "" || len(roomID) > 128 {
		writeErrorJSON(w, r, http.StatusBadRequest, &core.Error{
			Type: core.ErrProtocol, Message: "invalid room id", Code: "invalid_room", Param: "room",
		})
		return
	}

	if h.Lifecycle != nil && h.Lifecycle.IsDraining() {
		writeErrorJSON(w, r, 529, &core.Error{
			Type: core.ErrRateLimit, Message: "gateway is draining", Code: "draining",
		})
		return
	}

	claims, err := h.Verifier.Verify(auth.TokenFromRequest(r))
	if err != nil {
		writeErrorJSON(w, r, http.StatusUnauthorized, &core.Error{
			Type: core.ErrAuth, Message: "invalid meeting token", Code: "invalid_token",
		})
		return
	}
	if claims.Room != "" && claims.Room != roomID {
		writeErrorJSON(w, r, http.StatusForbidden, &core.Error{
			Type: core.ErrAuth, Message: "token is not valid for this meeting", Code: "room_mismatch", Param: "room",
		})
		return
	}

	if !h.originAllowed(r) {
		writeErrorJSON(w, r, http.StatusForbidden, &core.Error{
			Type: core.ErrAuth, Message: "origin is not allowed", Param: "Origin",
		})
		return
	}

	var permit *ratelimit.Permit
	if h.Limiter != nil {
		subject := principal.Resolve(claims.Subject, r, h.Config.TrustProxyHeaders)
		dec := h.Limiter.AcquireSession(subject.Key, time.Now())
		if !dec.Allowed {
			if dec.RetryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(dec.RetryAfter))
			}
			writeErrorJSON(w, r, http.StatusTooManyRequests, &core.Error{
				Type: core.ErrRateLimit, Message: "too many joins", Code: "rate_limited",
			})
			return
		}
		permit = dec.Permit
		defer permit.Release()
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	if h.Config.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.Config.MaxMessageBytes)
	}

	handshakeTimeout := h.Config.HandshakeTimeout
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	messageType, firstFrame, err := conn.ReadMessage()
	if err != nil {
		h.writeWSError(conn, "bad_request", "failed to read join frame", "")
		return
	}
	if messageType != websocket.TextMessage {
		h.writeWSError(conn, "bad_request", "first frame must be join", "")
		return
	}

	decoded, err := protocol.Decode(firstFrame)
	if err != nil {
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			h.writeWSError(conn, de.Code, de.Message, de.Param)
		} else {
			h.writeWSError(conn, "bad_request", "invalid join frame", "")
		}
		return
	}
	join, ok := decoded.(protocol.Join)
	if !ok {
		h.writeWSError(conn, "bad_request", "first frame must be join", "")
		return
	}

	// The token subject is authoritative for identity; the frame's from is
	// only honored in open mode or for subjects without one.
	id := strings.TrimSpace(claims.Subject)
	if id == "" {
		id = strings.TrimSpace(join.From)
	}
	if len(id) > 64 {
		h.writeWSError(conn, "bad_request", "participant id is too long", "from")
		return
	}

	displayName := strings.TrimSpace(claims.DisplayName)
	if displayName == "" {
		displayName = strings.TrimSpace(join.DisplayName)
	}

	// Only a token minted for the agent may claim the AI seat. Open mode
	// trusts the frame so local development works without a token service.
	kind := protocol.KindHuman
	switch {
	case strings.EqualFold(strings.TrimSpace(claims.Kind), string(protocol.KindAI)):
		kind = protocol.KindAI
	case h.Verifier == nil && join.Kind == protocol.KindAI:
		kind = protocol.KindAI
	}

	client := rooms.NewClient(rooms.ClientConfig{
		Conn:            conn,
		Logger:          h.Logger,
		MaxMessageBytes: h.Config.MaxMessageBytes,
		PingInterval:    h.Config.PingInterval,
		PongTimeout:     h.Config.PongTimeout,
		WriteTimeout:    h.Config.WriteTimeout,
		SendBuffer:      h.Config.SendBuffer,
		MessageRate:     h.Config.MessageRate,
		ByteRate:        h.Config.ByteRate,
		BurstSeconds:    h.Config.BurstSeconds,
	})

	room, err := h.Hub.Join(roomID, protocol.Participant{
		ID:          id,
		DisplayName: displayName,
		Kind:        kind,
		Muted:       join.Muted,
	}, client)
	if err != nil {
		code, message := joinErrorCode(err)
		h.writeWSError(conn, code, message, "")
		return
	}

	_ = conn.SetReadDeadline(time.Time{})

	unregister := func() {}
	if h.Sessions != nil {
		unregister = h.Sessions.Register("c_"+randHex(8), sessions.Handle{
			Cancel: client.Kill,
			Notify: client.Notify,
		})
	}
	defer unregister()

	client.Run(room, id)
}

func (h MeetingHandler) originAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if len(h.Config.CORSAllowedOrigins) == 0 {
		return false
	}
	_, ok := h.Config.CORSAllowedOrigins[origin]
	return ok
}

func joinErrorCode(err error) (code, message string) {
	switch {
	case errors.Is(err, rooms.ErrRoomFull):
		return "room_full", "meeting is full"
	case errors.Is(err, rooms.ErrDuplicateID):
		return "duplicate_participant", "participant id is already connected"
	case errors.Is(err, rooms.ErrAIPresent):
		return "ai_present", "meeting already has an AI participant"
	case errors.Is(err, rooms.ErrRoomClosed):
		return "room_closed", "meeting has ended"
	case errors.Is(err, rooms.ErrTooManyRooms):
		return "capacity", "gateway is at room capacity"
	case errors.Is(err, rooms.ErrShuttingDown):
		return "draining", "gateway is shutting down"
	default:
		return "internal", "failed to join meeting"
	}
}

func (h MeetingHandler) writeWSError(conn *websocket.Conn, code, message, param string) {
	data, err := protocol.Marshal(protocol.ErrorMessage{Type: "error", Code: code, Message: message, Param: param})
	if err == nil {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, message), time.Now().Add(2*time.Second))
}

func randHex(nbytes int) string {
	b := make([]byte, nbytes)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
