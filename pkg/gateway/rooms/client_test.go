package rooms

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

// wsFixture runs a minimal join-then-pump handler around a Hub, close
// to what the gateway handler does after auth.
type wsFixture struct {
	hub     *Hub
	srv     *httptest.Server
	clients chan *Client
}

func newWSFixture(t *testing.T, clientCfg ClientConfig) *wsFixture {
	t.Helper()
	f := &wsFixture{
		hub:     NewHub(Config{Logger: testLogger()}),
		clients: make(chan *Client, 8),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			return
		}
		joinMsg, ok := msg.(protocol.Join)
		if !ok {
			return
		}
		_ = conn.SetReadDeadline(time.Time{})

		cfg := clientCfg
		cfg.Conn = conn
		cfg.Logger = testLogger()
		client := NewClient(cfg)
		room, err := f.hub.Join("r1", protocol.Participant{
			ID:          joinMsg.From,
			DisplayName: joinMsg.DisplayName,
			Kind:        joinMsg.Kind,
			Muted:       joinMsg.Muted,
		}, client)
		if err != nil {
			return
		}
		f.clients <- client
		client.Run(room, joinMsg.From)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *wsFixture) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := conn.WriteJSON(protocol.Join{Type: protocol.TypeJoin, From: id, DisplayName: "p-" + id, Kind: protocol.KindHuman}); err != nil {
		t.Fatalf("send join: %v", err)
	}
	msg := readMsg(t, conn)
	if _, ok := msg.(protocol.RoomJoined); !ok {
		t.Fatalf("first frame = %T, want RoomJoined", msg)
	}
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	msg, err := protocol.Decode(data)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	return msg
}

func TestClient_PumpsRelayThroughRoom(t *testing.T) {
	f := newWSFixture(t, ClientConfig{})

	c1 := f.dial(t, "u1")
	c2 := f.dial(t, "u2")

	if msg, ok := readMsg(t, c1).(protocol.ParticipantJoined); !ok || msg.Participant.ID != "u2" {
		t.Fatalf("u1 announcement = %+v", msg)
	}

	if err := c1.WriteJSON(protocol.VoiceActivity{Type: protocol.TypeVoiceActivity, Speaking: true, AudioLevel: 0.5}); err != nil {
		t.Fatalf("send voice_activity: %v", err)
	}
	msg := readMsg(t, c2)
	va, ok := msg.(protocol.VoiceActivity)
	if !ok {
		t.Fatalf("u2 frame = %T, want VoiceActivity", msg)
	}
	if va.From != "u1" || va.Phase != protocol.PhaseHumanSpeaking || va.CurrentSpeaker != "u1" {
		t.Fatalf("rebroadcast = %+v", va)
	}

	if err := c1.WriteJSON(protocol.Leave{Type: protocol.TypeLeave, From: "u1"}); err != nil {
		t.Fatalf("send leave: %v", err)
	}
	left, ok := readMsg(t, c2).(protocol.ParticipantLeft)
	if !ok || left.ParticipantID != "u1" {
		t.Fatalf("u2 frame = %+v, want participant_left u1", left)
	}
}

func TestClient_SurvivesJunkFrames(t *testing.T) {
	f := newWSFixture(t, ClientConfig{})

	c1 := f.dial(t, "u1")
	c2 := f.dial(t, "u2")
	readMsg(t, c1) // u2's announcement

	if err := c1.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("send binary: %v", err)
	}
	if err := c1.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send junk: %v", err)
	}
	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"type":"from_the_future"}`)); err != nil {
		t.Fatalf("send unknown: %v", err)
	}

	// The connection is still alive and relaying.
	if err := c1.WriteJSON(protocol.VoiceActivity{Type: protocol.TypeVoiceActivity, Speaking: true}); err != nil {
		t.Fatalf("send voice_activity: %v", err)
	}
	if _, ok := readMsg(t, c2).(protocol.VoiceActivity); !ok {
		t.Fatalf("voice_activity did not arrive after junk frames")
	}
}

func TestClient_InboundBudgetDropsFloods(t *testing.T) {
	f := newWSFixture(t, ClientConfig{MessageRate: 2, BurstSeconds: 1})

	c1 := f.dial(t, "u1")
	c2 := f.dial(t, "u2")
	readMsg(t, c1)

	for i := 0; i < 5; i++ {
		if err := c1.WriteJSON(protocol.ConversationMessage{Type: protocol.TypeConversationMessage, Text: "hi"}); err != nil {
			t.Fatalf("send conversation %d: %v", i, err)
		}
	}

	got := 0
	for {
		_ = c2.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
		_, data, err := c2.ReadMessage()
		if err != nil {
			break
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if _, ok := msg.(protocol.ConversationMessage); ok {
			got++
		}
	}
	// Two tokens in the burst window; the rest of the flood is dropped.
	if got != 2 {
		t.Fatalf("relayed conversation frames = %d, want 2", got)
	}
}

func TestClient_NotifyAndKill(t *testing.T) {
	f := newWSFixture(t, ClientConfig{})

	c1 := f.dial(t, "u1")
	server1 := <-f.clients

	if err := server1.Notify("draining", "server restarting soon"); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	errMsg, ok := readMsg(t, c1).(protocol.ErrorMessage)
	if !ok || errMsg.Code != "draining" {
		t.Fatalf("drain notice = %+v", errMsg)
	}

	server1.Kill()
	_ = c1.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c1.ReadMessage(); err != nil {
			break
		}
	}

	// The kill tore the member out of the room.
	deadline := time.Now().Add(2 * time.Second)
	for f.hub.Participants() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("participant still registered after kill")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClient_EvictionSendsGoodbye(t *testing.T) {
	f := newWSFixture(t, ClientConfig{})

	c1 := f.dial(t, "u1")
	f.dial(t, "u2")
	readMsg(t, c1)

	room, ok := f.hub.Lookup("r1")
	if !ok {
		t.Fatalf("room missing")
	}
	room.mu.Lock()
	room.removeLocked("u1", "evicted", "asked to leave")
	room.mu.Unlock()

	errMsg, ok := readMsg(t, c1).(protocol.ErrorMessage)
	if !ok || errMsg.Code != "evicted" {
		t.Fatalf("goodbye = %+v", errMsg)
	}
	_ = c1.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := c1.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("close error = %v, want normal closure", err)
			}
			break
		}
	}
}
