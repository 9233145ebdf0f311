// Package server assembles the meeting gateway: the room hub, token
// verification, admission control, the AI discovery agent, and the HTTP
// middleware chain around them.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/agent"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/auth"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/config"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/handlers"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/lifecycle"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/mw"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/ratelimit"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/sessions"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gemini"
)

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux

	hub       *rooms.Hub
	verifier  *auth.Verifier
	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
	agents    *agent.Manager
}

func New(cfg config.Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:       cfg,
		logger:    logger,
		mux:       http.NewServeMux(),
		verifier:  auth.NewVerifier(cfg.TokenSecret),
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
		limiter: ratelimit.New(ratelimit.Config{
			JoinRPS:               cfg.JoinRPS,
			JoinBurst:             cfg.JoinBurst,
			MaxConcurrentSessions: cfg.MaxSessionsPerSubject,
		}),
	}
	if s.verifier == nil {
		logger.Warn("NIA_TOKEN_SECRET not set, gateway runs open and trusts join frames")
	}

	hubCfg := rooms.Config{
		MaxRooms:               cfg.MaxRooms,
		MaxParticipantsPerRoom: cfg.MaxParticipantsPerRoom,
		Logger:                 logger,
	}
	if cfg.AgentEnabled {
		s.agents = agent.NewManager(s.agentConfig())
		hubCfg.OnRoomCreated = s.agents.RoomCreated
	}
	s.hub = rooms.NewHub(hubCfg)

	s.routes()
	return s
}

// agentConfig wires the agent's model backends: Gemini when a key is
// configured, the scripted text-only fallback otherwise.
func (s *Server) agentConfig() agent.Config {
	cfg := agent.Config{
		DisplayName: s.cfg.AgentDisplayName,
		Voice:       s.cfg.AgentVoice,
		JoinDelay:   s.cfg.AgentJoinDelay,
		Logger:      s.logger,
	}
	if s.cfg.GeminiAPIKey == "" {
		s.logger.Info("no gemini api key, agent runs scripted without voice")
		return cfg
	}
	gc, err := gemini.New(context.Background(), s.cfg.GeminiAPIKey,
		gemini.WithModel(s.cfg.GeminiModel),
		gemini.WithTTSModel(s.cfg.GeminiTTSModel),
	)
	if err != nil {
		s.logger.Warn("gemini unavailable, agent runs scripted", "error", err)
		return cfg
	}
	cfg.Responder = gc
	cfg.Analyzer = gc
	cfg.Synthesizer = gc
	return cfg
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Hub:       s.hub,
	})

	s.mux.Handle("/v1/meetings/{room}/ws", handlers.MeetingHandler{
		Config:    s.cfg,
		Logger:    s.logger,
		Hub:       s.hub,
		Verifier:  s.verifier,
		Limiter:   s.limiter,
		Lifecycle: s.lifecycle,
		Sessions:  s.sessions,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// Shutdown drains live meetings: readiness starts failing and new joins
// are refused, connected clients get an advisory error frame, and after
// the grace period whatever is left is cut off.
func (s *Server) Shutdown(ctx context.Context) {
	s.lifecycle.SetDraining(true)

	if n := s.sessions.NotifyAll("draining", "server is shutting down"); n > 0 {
		s.logger.Info("drain notice sent", "connections", n)
	}

	graceCtx := ctx
	if s.cfg.ShutdownGracePeriod > 0 {
		var cancel context.CancelFunc
		graceCtx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownGracePeriod)
		defer cancel()
	}
	if !s.sessions.Wait(graceCtx) {
		n := s.sessions.CancelAll()
		s.logger.Warn("drain grace expired, canceling meeting sockets", "connections", n)
		s.sessions.Wait(ctx)
	}

	s.hub.Shutdown()
	if s.agents != nil {
		if err := s.agents.Shutdown(ctx); err != nil {
			s.logger.Warn("agent shutdown incomplete", "error", err)
		}
	}
}
