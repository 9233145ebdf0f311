package handlers

import (
	"net/http"

	"github.com/SmitSuthar8834/NIA-Next-Gen-Intelligent-Assistant-sub000/pkg/core"
)

type NotFoundHandler struct{}

func (h NotFoundHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	writeErrorJSON(w, r, http.StatusNotFound, &core.Error{
		Type:    core.ErrProtocol,
		Message: "not found",
		Code:    "not_found",
	})
}
