package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/config"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/lifecycle"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/rooms"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports whether the gateway should receive new meeting
// traffic. It fails during draining so load balancers stop routing joins
// here while live rooms wind down.
type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	Hub       *rooms.Hub
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK           bool     `json:"ok"`
		Draining     bool     `json:"draining"`
		Rooms        int      `json:"rooms"`
		Participants int      `json:"participants"`
		AuthEnabled  bool     `json:"auth_enabled"`
		AgentEnabled bool     `json:"agent_enabled"`
		Issues       []string `json:"issues,omitempty"`
	}

	var issues []string
	if err := h.Config.Validate(); err != nil {
		issues = append(issues, err.Error())
	}

	resp := readyResp{
		OK:           len(issues) == 0,
		Draining:     h.Lifecycle.IsDraining(),
		AuthEnabled:  h.Config.TokenSecret != "",
		AgentEnabled: h.Config.AgentEnabled,
		Issues:       issues,
	}
	if h.Hub != nil {
		resp.Rooms = h.Hub.Rooms()
		resp.Participants = h.Hub.Participants()
	}

	status := http.StatusOK
	switch {
	case !resp.OK:
		status = http.StatusInternalServerError
	case resp.Draining:
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
