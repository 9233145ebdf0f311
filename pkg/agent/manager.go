package agent

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
)

// Config tunes the discovery host. Zero values take sensible defaults, so
// Manager can be constructed from a partially filled struct.
type Config struct {
	// DisplayName is the roster name the agent joins under.
	DisplayName string

	// Voice names the synthesis voice attached to ai_voice_message frames.
	Voice string

	// JoinDelay holds the agent back after a room appears so the first
	// human finishes their own join handshake before ai_joined lands.
	JoinDelay time.Duration

	// ResponseDelay is the pause between a human utterance and the
	// agent's reply, so back-to-back transcript lines from one person
	// collapse into a single turn.
	ResponseDelay time.Duration

	// IdleTimeout ends the meeting when nobody has said anything.
	IdleTimeout time.Duration

	// Questions is the scripted discovery plan. The first entry is folded
	// into the greeting.
	Questions []string

	// MaxQuestions caps agent turns before the wrap-up, counting the
	// greeting. Defaults to len(Questions).
	MaxQuestions int

	Responder   Responder
	Synthesizer Synthesizer
	Analyzer    Analyzer

	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.DisplayName == "" {
		c.DisplayName = "NIA Assistant"
	}
	if c.ResponseDelay <= 0 {
		c.ResponseDelay = 2 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 3 * time.Minute
	}
	if len(c.Questions) == 0 {
		c.Questions = DefaultQuestions()
	}
	if c.MaxQuestions <= 0 {
		c.MaxQuestions = len(c.Questions)
	}
	if c.Responder == nil {
		c.Responder = ScriptedResponder{}
	}
	if c.Analyzer == nil {
		c.Analyzer = ScriptedAnalyzer{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Manager launches one Host per room and tracks them for shutdown. It is
// wired into the room hub's OnRoomCreated hook.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active int
	closed bool
}

func NewManager(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// RoomCreated schedules a host for the new room. It returns immediately;
// the host joins after JoinDelay on its own goroutine.
func (m *Manager) RoomCreated(room *rooms.Room) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.active++
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			m.active--
			m.mu.Unlock()
		}()

		if m.cfg.JoinDelay > 0 {
			select {
			case <-time.After(m.cfg.JoinDelay):
			case <-m.ctx.Done():
				return
			}
		}

		h := newHost(m.ctx, room, m.cfg)
		if err := h.join(); err != nil {
			if errors.Is(err, rooms.ErrRoomClosed) {
				h.logger.Debug("room gone before agent could join")
			} else {
				h.logger.Warn("agent could not join room", "error", err)
			}
			h.cancel()
			return
		}
		h.run()
	}()
}

// Active reports how many hosts are live or waiting to join.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Shutdown cancels every host and waits for them to unwind, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
