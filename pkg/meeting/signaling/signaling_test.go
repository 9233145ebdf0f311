package signaling

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

func newSignalingTestServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) (string, func()) {
	t.Helper()

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/meetings/R1/ws" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		handler(conn, r)
	}))

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

func dialTest(t *testing.T, serverURL string) *Channel {
	t.Helper()
	ch, err := Dial(context.Background(), Config{
		URL:    serverURL,
		RoomID: "R1",
		Token:  "tok",
	})
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { ch.Close() })
	return ch
}

func nextEvent(t *testing.T, ch *Channel) Event {
	t.Helper()
	select {
	case e, ok := <-ch.Events():
		if !ok {
			t.Fatal("event channel closed unexpectedly")
		}
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestDial_ReceivesMessages(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newSignalingTestServer(t, func(conn *websocket.Conn, r *http.Request) {
		defer conn.Close()
		if got := r.URL.Query().Get("token"); got != "tok" {
			t.Errorf("token query = %q, want tok", got)
		}
		_ = conn.WriteJSON(map[string]any{
			"type": "participant_joined",
			"participant": map[string]any{
				"id":           "p2",
				"display_name": "Pat",
				"kind":         "human",
				"connected":    true,
			},
		})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	})
	defer closeServer()

	ch := dialTest(t, serverURL)
	if got := ch.Status(); got != StatusConnected {
		t.Errorf("Status = %s, want connected", got)
	}

	e := nextEvent(t, ch)
	msgEvent, ok := e.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", e)
	}
	joined, ok := msgEvent.Msg.(protocol.ParticipantJoined)
	if !ok {
		t.Fatalf("expected ParticipantJoined, got %T", msgEvent.Msg)
	}
	if joined.Participant.ID != "p2" {
		t.Errorf("participant id = %q, want p2", joined.Participant.ID)
	}

	e = nextEvent(t, ch)
	closedEvent, ok := e.(ClosedEvent)
	if !ok {
		t.Fatalf("expected ClosedEvent, got %T", e)
	}
	if closedEvent.Err != nil {
		t.Errorf("clean close should carry nil error, got %v", closedEvent.Err)
	}

	<-ch.Done()
	if got := ch.Status(); got != StatusClosed {
		t.Errorf("Status after close = %s, want closed", got)
	}
}

func TestChannel_SendReachesServer(t *testing.T) {
	t.Parallel()

	received := make(chan protocol.Message, 1)
	serverURL, closeServer := newSignalingTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		defer conn.Close()
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Errorf("server decode: %v", err)
			return
		}
		received <- msg
	})
	defer closeServer()

	ch := dialTest(t, serverURL)
	err := ch.Send(protocol.Join{
		Type:        protocol.TypeJoin,
		From:        "u1",
		DisplayName: "Uma",
		Kind:        protocol.KindHuman,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-received:
		join, ok := msg.(protocol.Join)
		if !ok {
			t.Fatalf("server got %T, want Join", msg)
		}
		if join.From != "u1" || join.DisplayName != "Uma" {
			t.Errorf("unexpected join payload: %+v", join)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received the join")
	}
}

func TestChannel_MalformedAndUnknownFramesDropped(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newSignalingTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery_frame"}`))
		_ = conn.WriteJSON(map[string]any{"type": "ai_speaking_finished", "from": "ai-1"})
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
	})
	defer closeServer()

	ch := dialTest(t, serverURL)

	// Only the valid frame comes through.
	e := nextEvent(t, ch)
	msgEvent, ok := e.(MessageEvent)
	if !ok {
		t.Fatalf("expected MessageEvent, got %T", e)
	}
	if _, ok := msgEvent.Msg.(protocol.AISpeakingFinished); !ok {
		t.Fatalf("expected AISpeakingFinished, got %T", msgEvent.Msg)
	}
	if e := nextEvent(t, ch); e == nil {
		t.Fatal("expected closed event")
	}
}

func TestChannel_AbruptDropReportsError(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newSignalingTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		// Slam the TCP connection without a close handshake.
		conn.Close()
	})
	defer closeServer()

	ch := dialTest(t, serverURL)
	e := nextEvent(t, ch)
	closedEvent, ok := e.(ClosedEvent)
	if !ok {
		t.Fatalf("expected ClosedEvent, got %T", e)
	}
	if closedEvent.Err == nil {
		t.Error("abrupt drop should carry an error")
	}
	if err := ch.Err(); err == nil {
		t.Error("Err() should report the transport failure")
	}
	if got := ch.Status(); got != StatusDisconnected {
		t.Errorf("Status after drop = %s, want disconnected", got)
	}
}

func TestChannel_CloseIdempotent(t *testing.T) {
	t.Parallel()

	serverURL, closeServer := newSignalingTestServer(t, func(conn *websocket.Conn, _ *http.Request) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer closeServer()

	ch := dialTest(t, serverURL)
	if err := ch.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := ch.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := ch.Send(protocol.Leave{Type: protocol.TypeLeave, From: "u1"}); err == nil {
		t.Error("Send after Close should fail")
	}
	if got := ch.Status(); got != StatusClosed {
		t.Errorf("Status = %s, want closed", got)
	}
}

func TestDial_AuthRejected(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad token", http.StatusUnauthorized)
	}))
	defer server.Close()

	_, err := Dial(context.Background(), Config{URL: server.URL, RoomID: "R1", Token: "bad"})
	if err == nil {
		t.Fatal("expected auth error")
	}
	if got := core.TypeOf(err); got != core.ErrAuth {
		t.Errorf("error type = %s, want %s", got, core.ErrAuth)
	}
}

func TestDial_ServerUnreachable(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := server.URL
	server.Close()

	_, err := Dial(context.Background(), Config{URL: addr, RoomID: "R1", Token: "tok", DialTimeout: 2 * time.Second})
	if err == nil {
		t.Fatal("expected dial error")
	}
	if got := core.TypeOf(err); got != core.ErrNetwork {
		t.Errorf("error type = %s, want %s", got, core.ErrNetwork)
	}
}

func TestDial_ConfigValidation(t *testing.T) {
	t.Parallel()

	if _, err := Dial(context.Background(), Config{URL: "ws://x", RoomID: "", Token: "t"}); core.TypeOf(err) != core.ErrConfig {
		t.Errorf("missing room: error type = %s, want config", core.TypeOf(err))
	}
	if _, err := Dial(context.Background(), Config{URL: "", RoomID: "R1", Token: "t"}); core.TypeOf(err) != core.ErrConfig {
		t.Errorf("missing url: error type = %s, want config", core.TypeOf(err))
	}
	if _, err := Dial(context.Background(), Config{URL: "ftp://host", RoomID: "R1", Token: "t"}); core.TypeOf(err) != core.ErrConfig {
		t.Errorf("bad scheme: error type = %s, want config", core.TypeOf(err))
	}

	// A blank token is a configuration error before any network activity.
	var cerr *core.Error
	if _, err := Dial(context.Background(), Config{URL: "ws://x", RoomID: "R1", Token: " "}); !errors.As(err, &cerr) || cerr.Type != core.ErrConfig || cerr.Param != "token" {
		t.Errorf("blank token: got %v, want config error on token", err)
	}
}

func TestEndpointURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		room  string
		token string
		want  string
	}{
		{
			name: "https to wss",
			base: "https://meet.example.com",
			room: "R1",
			want: "wss://meet.example.com/v1/meetings/R1/ws",
		},
		{
			name:  "token query",
			base:  "ws://localhost:8080",
			room:  "abc",
			token: "t0k",
			want:  "ws://localhost:8080/v1/meetings/abc/ws?token=t0k",
		},
		{
			name: "base path preserved",
			base: "http://host/api",
			room: "R1",
			want: "ws://host/api/v1/meetings/R1/ws",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := endpointURL(tt.base, tt.room, tt.token)
			if err != nil {
				t.Fatalf("endpointURL: %v", err)
			}
			if got != tt.want {
				t.Errorf("endpointURL = %q, want %q", got, tt.want)
			}
		})
	}
}
