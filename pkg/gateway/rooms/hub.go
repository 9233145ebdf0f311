package rooms

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/meeting/protocol"
)

var (
	ErrShuttingDown = errors.New("hub shutting down")
	ErrTooManyRooms = errors.New("room capacity reached")
)

// Config shapes every room the hub creates.
type Config struct {
	MaxRooms               int
	MaxParticipantsPerRoom int
	Logger                 *slog.Logger

	// OnRoomCreated runs once per room, after its first member joined.
	// The meeting agent attaches itself here. Called outside hub and
	// room locks.
	OnRoomCreated func(*Room)
}

// Hub owns the live rooms. Rooms are created on first join and retire
// themselves when their last member leaves.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
}

func NewHub(cfg Config) *Hub {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxRooms <= 0 {
		cfg.MaxRooms = 1024
	}
	if cfg.MaxParticipantsPerRoom <= 0 {
		cfg.MaxParticipantsPerRoom = 8
	}
	return &Hub{
		cfg:    cfg,
		logger: cfg.Logger,
		rooms:  make(map[string]*Room),
	}
}

// Join adds p to the named room, creating the room on first use.
func (h *Hub) Join(roomID string, p protocol.Participant, out Outbound) (*Room, error) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, ErrShuttingDown
	}
	r, ok := h.rooms[roomID]
	created := false
	if !ok {
		if len(h.rooms) >= h.cfg.MaxRooms {
			h.mu.Unlock()
			return nil, ErrTooManyRooms
		}
		r = newRoom(roomID, h)
		h.rooms[roomID] = r
		created = true
	}
	h.mu.Unlock()

	if err := r.Join(p, out); err != nil {
		return nil, err
	}
	if created {
		h.logger.Info("room created", "room_id", roomID)
		if h.cfg.OnRoomCreated != nil {
			h.cfg.OnRoomCreated(r)
		}
	}
	return r, nil
}

// Lookup returns the named room if it is live.
func (h *Hub) Lookup(roomID string) (*Room, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[roomID]
	return r, ok
}

// Rooms reports how many rooms are live.
func (h *Hub) Rooms() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Participants reports the total roster size across all rooms.
func (h *Hub) Participants() int {
	h.mu.Lock()
	list := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		list = append(list, r)
	}
	h.mu.Unlock()

	total := 0
	for _, r := range list {
		total += r.Size()
	}
	return total
}

// Shutdown refuses new joins and evicts every member of every room.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	h.closed = true
	list := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		list = append(list, r)
	}
	h.mu.Unlock()

	for _, r := range list {
		r.Close("shutting_down", "server shutting down")
	}
}

// remove is called by a retiring room. The pointer check guards
// against deleting a recreated room of the same id.
func (h *Hub) remove(roomID string, r *Room) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[roomID] == r {
		delete(h.rooms, roomID)
	}
}
