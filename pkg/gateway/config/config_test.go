package config

import (
	"strings"
	"testing"
	"time"
)

var gatewayEnvKeys = []string{
	"NIA_ADDR",
	"NIA_TOKEN_SECRET",
	"NIA_TRUST_PROXY_HEADERS",
	"NIA_CORS_ORIGINS",
	"NIA_WS_MAX_MESSAGE_BYTES",
	"NIA_WS_HANDSHAKE_TIMEOUT",
	"NIA_WS_PING_INTERVAL",
	"NIA_WS_PONG_TIMEOUT",
	"NIA_WS_WRITE_TIMEOUT",
	"NIA_WS_SEND_BUFFER",
	"NIA_MAX_ROOMS",
	"NIA_ROOM_MAX_PARTICIPANTS",
	"NIA_WS_MESSAGE_RATE",
	"NIA_WS_BYTE_RATE",
	"NIA_WS_BURST_SECONDS",
	"NIA_MAX_SESSIONS_PER_SUBJECT",
	"NIA_JOIN_RPS",
	"NIA_JOIN_BURST",
	"NIA_AGENT_ENABLED",
	"NIA_AGENT_DISPLAY_NAME",
	"NIA_AGENT_JOIN_DELAY",
	"NIA_AGENT_VOICE",
	"NIA_GEMINI_API_KEY",
	"NIA_GEMINI_MODEL",
	"NIA_GEMINI_TTS_MODEL",
	"GEMINI_API_KEY",
	"NIA_READ_HEADER_TIMEOUT",
	"NIA_SHUTDOWN_GRACE_PERIOD",
}

func clearGatewayEnv(t *testing.T) {
	t.Helper()
	for _, key := range gatewayEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadFromEnv_Defaults(t *testing.T) {
	clearGatewayEnv(t)

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":8080" {
		t.Fatalf("Addr = %q, want :8080", cfg.Addr)
	}
	if cfg.TokenSecret != "" {
		t.Fatalf("TokenSecret = %q, want empty", cfg.TokenSecret)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = true, want false")
	}
	if len(cfg.CORSAllowedOrigins) != 0 {
		t.Fatalf("CORSAllowedOrigins = %v, want empty", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxMessageBytes != 1<<20 {
		t.Fatalf("MaxMessageBytes = %d, want %d", cfg.MaxMessageBytes, int64(1<<20))
	}
	if cfg.HandshakeTimeout != 10*time.Second {
		t.Fatalf("HandshakeTimeout = %v, want 10s", cfg.HandshakeTimeout)
	}
	if cfg.PingInterval != 25*time.Second {
		t.Fatalf("PingInterval = %v, want 25s", cfg.PingInterval)
	}
	if cfg.PongTimeout != 60*time.Second {
		t.Fatalf("PongTimeout = %v, want 60s", cfg.PongTimeout)
	}
	if cfg.WriteTimeout != 10*time.Second {
		t.Fatalf("WriteTimeout = %v, want 10s", cfg.WriteTimeout)
	}
	if cfg.SendBuffer != 64 {
		t.Fatalf("SendBuffer = %d, want 64", cfg.SendBuffer)
	}
	if cfg.MaxRooms != 1024 {
		t.Fatalf("MaxRooms = %d, want 1024", cfg.MaxRooms)
	}
	if cfg.MaxParticipantsPerRoom != 8 {
		t.Fatalf("MaxParticipantsPerRoom = %d, want 8", cfg.MaxParticipantsPerRoom)
	}
	if cfg.MessageRate != 60 {
		t.Fatalf("MessageRate = %v, want 60", cfg.MessageRate)
	}
	if cfg.ByteRate != 256<<10 {
		t.Fatalf("ByteRate = %d, want %d", cfg.ByteRate, int64(256<<10))
	}
	if cfg.BurstSeconds != 2 {
		t.Fatalf("BurstSeconds = %d, want 2", cfg.BurstSeconds)
	}
	if cfg.MaxSessionsPerSubject != 4 {
		t.Fatalf("MaxSessionsPerSubject = %d, want 4", cfg.MaxSessionsPerSubject)
	}
	if cfg.JoinRPS != 1 {
		t.Fatalf("JoinRPS = %v, want 1", cfg.JoinRPS)
	}
	if cfg.JoinBurst != 5 {
		t.Fatalf("JoinBurst = %d, want 5", cfg.JoinBurst)
	}
	if !cfg.AgentEnabled {
		t.Fatalf("AgentEnabled = false, want true")
	}
	if cfg.AgentDisplayName != "NIA Assistant" {
		t.Fatalf("AgentDisplayName = %q", cfg.AgentDisplayName)
	}
	if cfg.AgentJoinDelay != 2*time.Second {
		t.Fatalf("AgentJoinDelay = %v, want 2s", cfg.AgentJoinDelay)
	}
	if cfg.AgentVoice != "Kore" {
		t.Fatalf("AgentVoice = %q, want Kore", cfg.AgentVoice)
	}
	if cfg.GeminiModel != "gemini-2.0-flash" {
		t.Fatalf("GeminiModel = %q", cfg.GeminiModel)
	}
	if cfg.GeminiTTSModel != "gemini-2.5-flash-preview-tts" {
		t.Fatalf("GeminiTTSModel = %q", cfg.GeminiTTSModel)
	}
	if cfg.ReadHeaderTimeout != 10*time.Second {
		t.Fatalf("ReadHeaderTimeout = %v, want 10s", cfg.ReadHeaderTimeout)
	}
	if cfg.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("ShutdownGracePeriod = %v, want 10s", cfg.ShutdownGracePeriod)
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("NIA_ADDR", ":9090")
	t.Setenv("NIA_TOKEN_SECRET", "hush")
	t.Setenv("NIA_TRUST_PROXY_HEADERS", "true")
	t.Setenv("NIA_CORS_ORIGINS", "https://app.example.com, https://staging.example.com")
	t.Setenv("NIA_WS_MAX_MESSAGE_BYTES", "2097152")
	t.Setenv("NIA_WS_PING_INTERVAL", "10s")
	t.Setenv("NIA_WS_PONG_TIMEOUT", "30s")
	t.Setenv("NIA_ROOM_MAX_PARTICIPANTS", "4")
	t.Setenv("NIA_WS_MESSAGE_RATE", "25")
	t.Setenv("NIA_AGENT_ENABLED", "false")
	t.Setenv("NIA_JOIN_RPS", "0")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Addr != ":9090" {
		t.Fatalf("Addr = %q, want :9090", cfg.Addr)
	}
	if cfg.TokenSecret != "hush" {
		t.Fatalf("TokenSecret = %q, want hush", cfg.TokenSecret)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("TrustProxyHeaders = false, want true")
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if _, ok := cfg.CORSAllowedOrigins["https://staging.example.com"]; !ok {
		t.Fatalf("CORSAllowedOrigins missing trimmed origin: %v", cfg.CORSAllowedOrigins)
	}
	if cfg.MaxMessageBytes != 2<<20 {
		t.Fatalf("MaxMessageBytes = %d, want %d", cfg.MaxMessageBytes, int64(2<<20))
	}
	if cfg.PingInterval != 10*time.Second {
		t.Fatalf("PingInterval = %v, want 10s", cfg.PingInterval)
	}
	if cfg.PongTimeout != 30*time.Second {
		t.Fatalf("PongTimeout = %v, want 30s", cfg.PongTimeout)
	}
	if cfg.MaxParticipantsPerRoom != 4 {
		t.Fatalf("MaxParticipantsPerRoom = %d, want 4", cfg.MaxParticipantsPerRoom)
	}
	if cfg.MessageRate != 25 {
		t.Fatalf("MessageRate = %d, want 25", cfg.MessageRate)
	}
	if cfg.AgentEnabled {
		t.Fatalf("AgentEnabled = true, want false")
	}
	if cfg.JoinRPS != 0 {
		t.Fatalf("JoinRPS = %v, want 0", cfg.JoinRPS)
	}
}

func TestLoadFromEnv_GeminiKeyFallback(t *testing.T) {
	clearGatewayEnv(t)
	t.Setenv("GEMINI_API_KEY", "ambient-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.GeminiAPIKey != "ambient-key" {
		t.Fatalf("GeminiAPIKey = %q, want ambient-key", cfg.GeminiAPIKey)
	}

	t.Setenv("NIA_GEMINI_API_KEY", "explicit-key")
	cfg, err = LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.GeminiAPIKey != "explicit-key" {
		t.Fatalf("GeminiAPIKey = %q, want explicit-key", cfg.GeminiAPIKey)
	}
}

func TestLoadFromEnv_RejectsBrokenConfig(t *testing.T) {
	cases := []struct {
		name    string
		key     string
		value   string
		wantSub string
	}{
		{"pong not beyond ping", "NIA_WS_PONG_TIMEOUT", "5s", "NIA_WS_PONG_TIMEOUT"},
		{"room too small", "NIA_ROOM_MAX_PARTICIPANTS", "1", "NIA_ROOM_MAX_PARTICIPANTS"},
		{"zero rooms", "NIA_MAX_ROOMS", "0", "NIA_MAX_ROOMS"},
		{"zero send buffer", "NIA_WS_SEND_BUFFER", "0", "NIA_WS_SEND_BUFFER"},
		{"zero sessions per subject", "NIA_MAX_SESSIONS_PER_SUBJECT", "0", "NIA_MAX_SESSIONS_PER_SUBJECT"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearGatewayEnv(t)
			t.Setenv(tc.key, tc.value)

			_, err := LoadFromEnv()
			if err == nil {
				t.Fatalf("LoadFromEnv() accepted %s=%s", tc.key, tc.value)
			}
			if !strings.Contains(err.Error(), tc.wantSub) {
				t.Fatalf("error %q does not mention %s", err, tc.wantSub)
			}
		})
	}
}
