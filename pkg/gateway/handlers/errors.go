package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/gateway/mw"
)

// errorEnvelope is the JSON body for every non-websocket error response.
type errorEnvelope struct {
	Error     *core.Error `json:"error"`
	RequestID string      `json:"request_id,omitempty"`
}

func writeErrorJSON(w http.ResponseWriter, r *http.Request, status int, coreErr *core.Error) {
	reqID := ""
	if r != nil {
		reqID, _ = mw.RequestIDFrom(r.Context())
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: coreErr, RequestID: reqID})
}
