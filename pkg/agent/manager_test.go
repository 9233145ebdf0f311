package agent

import (
	"context"
	"testing"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

func TestManager_HostJoinsNewRooms(t *testing.T) {
	mgr := NewManager(Config{
		DisplayName:   "NIA Assistant",
		ResponseDelay: 10 * time.Millisecond,
		Synthesizer:   fastSynth{},
		Logger:        testLogger(),
	})
	hub := rooms.NewHub(rooms.Config{Logger: testLogger(), OnRoomCreated: mgr.RoomCreated})

	sink := newHumanSink()
	if _, err := hub.Join("lead-1", protocol.Participant{ID: "u1", DisplayName: "Jordan", Kind: protocol.KindHuman}, sink); err != nil {
		t.Fatalf("human join: %v", err)
	}

	joined := awaitFrame[protocol.AIJoined](t, sink)
	if joined.Participant.DisplayName != "NIA Assistant" {
		t.Fatalf("agent display name = %q", joined.Participant.DisplayName)
	}
	awaitFrame[protocol.AIVoiceMessage](t, sink)
	if mgr.Active() != 1 {
		t.Fatalf("active hosts = %d, want 1", mgr.Active())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if mgr.Active() != 0 {
		t.Fatalf("active hosts after shutdown = %d", mgr.Active())
	}

	left := awaitFrame[protocol.ParticipantLeft](t, sink)
	if left.ParticipantID != joined.Participant.ID {
		t.Fatalf("departed participant = %q, want the agent", left.ParticipantID)
	}
}

func TestManager_ShutdownCancelsPendingJoins(t *testing.T) {
	mgr := NewManager(Config{
		JoinDelay: 5 * time.Second,
		Logger:    testLogger(),
	})
	hub := rooms.NewHub(rooms.Config{Logger: testLogger(), OnRoomCreated: mgr.RoomCreated})

	sink := newHumanSink()
	if _, err := hub.Join("lead-1", protocol.Participant{ID: "u1", DisplayName: "Jordan", Kind: protocol.KindHuman}, sink); err != nil {
		t.Fatalf("human join: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if mgr.Active() != 0 {
		t.Fatalf("active hosts = %d, want 0", mgr.Active())
	}

	// The pending join was abandoned, so the human never saw ai_joined.
	for {
		select {
		case msg := <-sink.frames:
			if _, ok := msg.(protocol.AIJoined); ok {
				t.Fatal("agent joined despite shutdown")
			}
		default:
			return
		}
	}
}

func TestManager_IgnoresRoomsAfterShutdown(t *testing.T) {
	mgr := NewManager(Config{Logger: testLogger()})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := mgr.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	hub := rooms.NewHub(rooms.Config{Logger: testLogger()})
	sink := newHumanSink()
	room, err := hub.Join("lead-1", protocol.Participant{ID: "u1", DisplayName: "Jordan", Kind: protocol.KindHuman}, sink)
	if err != nil {
		t.Fatalf("human join: %v", err)
	}

	mgr.RoomCreated(room)
	if mgr.Active() != 0 {
		t.Fatalf("active hosts = %d, want 0", mgr.Active())
	}
}
