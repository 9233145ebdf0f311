// Package config holds the meeting gateway configuration. Everything is
// sourced from NIA_-prefixed environment variables with conservative
// defaults, so a bare `nia-meetingd` starts a usable development server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// TokenSecret verifies meeting tokens as HS256 JWTs. Empty means the
	// gateway runs open: any non-empty token is accepted and the join
	// frame is trusted for identity. Never leave it empty in production.
	TokenSecret string

	// If true, client identity in access logs may be derived from proxy
	// headers like X-Forwarded-For. Enable only behind a trusted LB.
	TrustProxyHeaders bool

	// CORS / Origin allowlist for browser websocket upgrades.
	// Empty => cross-origin upgrades are refused.
	CORSAllowedOrigins map[string]struct{}

	// Websocket framing.
	MaxMessageBytes  int64         // read limit per frame; AI voice rides base64, frames run large
	HandshakeTimeout time.Duration // deadline for the first (join) frame
	PingInterval     time.Duration
	PongTimeout      time.Duration // read deadline extension granted per pong
	WriteTimeout     time.Duration
	SendBuffer       int // outbound frames queued per connection before it is dropped

	// Room shape.
	MaxRooms                int
	MaxParticipantsPerRoom  int

	// Per-connection inbound budget (voice_activity floods, ICE bursts).
	MessageRate  int   // messages/second
	ByteRate     int64 // bytes/second
	BurstSeconds int

	// Per-subject admission control.
	MaxSessionsPerSubject int
	JoinRPS               float64
	JoinBurst             int

	// AI participant.
	AgentEnabled     bool
	AgentDisplayName string
	AgentJoinDelay   time.Duration
	AgentVoice       string
	GeminiAPIKey     string
	GeminiModel      string
	GeminiTTSModel   string

	// Operational timeouts.
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

// LoadFromEnv builds a Config from NIA_* environment variables.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:        envOr("NIA_ADDR", ":8080"),
		TokenSecret: os.Getenv("NIA_TOKEN_SECRET"),

		TrustProxyHeaders: envBoolOr("NIA_TRUST_PROXY_HEADERS", false),

		MaxMessageBytes:  envInt64Or("NIA_WS_MAX_MESSAGE_BYTES", 1<<20),
		HandshakeTimeout: envDurationOr("NIA_WS_HANDSHAKE_TIMEOUT", 10*time.Second),
		PingInterval:     envDurationOr("NIA_WS_PING_INTERVAL", 25*time.Second),
		PongTimeout:      envDurationOr("NIA_WS_PONG_TIMEOUT", 60*time.Second),
		WriteTimeout:     envDurationOr("NIA_WS_WRITE_TIMEOUT", 10*time.Second),
		SendBuffer:       envIntOr("NIA_WS_SEND_BUFFER", 64),

		MaxRooms:               envIntOr("NIA_MAX_ROOMS", 1024),
		MaxParticipantsPerRoom: envIntOr("NIA_ROOM_MAX_PARTICIPANTS", 8),

		MessageRate:  envIntOr("NIA_WS_MESSAGE_RATE", 60),
		ByteRate:     envInt64Or("NIA_WS_BYTE_RATE", 256<<10),
		BurstSeconds: envIntOr("NIA_WS_BURST_SECONDS", 2),

		MaxSessionsPerSubject: envIntOr("NIA_MAX_SESSIONS_PER_SUBJECT", 4),
		JoinRPS:               envFloat64Or("NIA_JOIN_RPS", 1),
		JoinBurst:             envIntOr("NIA_JOIN_BURST", 5),

		AgentEnabled:     envBoolOr("NIA_AGENT_ENABLED", true),
		AgentDisplayName: envOr("NIA_AGENT_DISPLAY_NAME", "NIA Assistant"),
		AgentJoinDelay:   envDurationOr("NIA_AGENT_JOIN_DELAY", 2*time.Second),
		AgentVoice:       envOr("NIA_AGENT_VOICE", "Kore"),
		GeminiAPIKey:     envOr("NIA_GEMINI_API_KEY", os.Getenv("GEMINI_API_KEY")),
		GeminiModel:      envOr("NIA_GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiTTSModel:   envOr("NIA_GEMINI_TTS_MODEL", "gemini-2.5-flash-preview-tts"),

		ReadHeaderTimeout:   envDurationOr("NIA_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("NIA_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}

	if origins := splitCSV(os.Getenv("NIA_CORS_ORIGINS")); len(origins) > 0 {
		cfg.CORSAllowedOrigins = make(map[string]struct{}, len(origins))
		for _, o := range origins {
			cfg.CORSAllowedOrigins[o] = struct{}{}
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the gateway cannot run with.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Addr) == "" {
		return fmt.Errorf("NIA_ADDR must not be empty")
	}
	if c.MaxMessageBytes <= 0 {
		return fmt.Errorf("NIA_WS_MAX_MESSAGE_BYTES must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("NIA_WS_HANDSHAKE_TIMEOUT must be > 0")
	}
	if c.PingInterval <= 0 {
		return fmt.Errorf("NIA_WS_PING_INTERVAL must be > 0")
	}
	if c.PongTimeout <= c.PingInterval {
		return fmt.Errorf("NIA_WS_PONG_TIMEOUT must be greater than NIA_WS_PING_INTERVAL")
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("NIA_WS_WRITE_TIMEOUT must be > 0")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("NIA_WS_SEND_BUFFER must be > 0")
	}
	if c.MaxRooms <= 0 {
		return fmt.Errorf("NIA_MAX_ROOMS must be > 0")
	}
	if c.MaxParticipantsPerRoom < 2 {
		return fmt.Errorf("NIA_ROOM_MAX_PARTICIPANTS must be >= 2")
	}
	if c.MessageRate < 0 || c.ByteRate < 0 {
		return fmt.Errorf("NIA_WS_MESSAGE_RATE and NIA_WS_BYTE_RATE must be >= 0")
	}
	if (c.MessageRate > 0 || c.ByteRate > 0) && c.BurstSeconds <= 0 {
		return fmt.Errorf("NIA_WS_BURST_SECONDS must be > 0 when inbound rates are set")
	}
	if c.MaxSessionsPerSubject <= 0 {
		return fmt.Errorf("NIA_MAX_SESSIONS_PER_SUBJECT must be > 0")
	}
	if c.JoinRPS < 0 {
		return fmt.Errorf("NIA_JOIN_RPS must be >= 0")
	}
	if c.JoinRPS > 0 && c.JoinBurst <= 0 {
		return fmt.Errorf("NIA_JOIN_BURST must be > 0 when NIA_JOIN_RPS is set")
	}
	if c.AgentEnabled {
		if strings.TrimSpace(c.AgentDisplayName) == "" {
			return fmt.Errorf("NIA_AGENT_DISPLAY_NAME must not be empty")
		}
		if c.AgentJoinDelay < 0 {
			return fmt.Errorf("NIA_AGENT_JOIN_DELAY must be >= 0")
		}
	}
	if c.ReadHeaderTimeout <= 0 {
		return fmt.Errorf("NIA_READ_HEADER_TIMEOUT must be > 0")
	}
	if c.ShutdownGracePeriod <= 0 {
		return fmt.Errorf("NIA_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return nil
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func envIntOr(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

func envInt64Or(key string, def int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return def
	}
	return f
}

func envBoolOr(key string, def bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

func envDurationOr(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
