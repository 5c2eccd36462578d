package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/gate"
	"github.com/geonexus/entitlements/internal/logging"
	"github.com/geonexus/entitlements/internal/store"
)

type unavailableResponse struct {
	Active bool   `json:"active"`
	Status string `json:"status"`
	Error  string `json:"error"`
}

// HandleCheckSubscription answers GET /api/check-subscription?uid=.
// An unreachable store is reported as 503 "unavailable", never as inactive.
func HandleCheckSubscription(checker gate.Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.URL.Query().Get("uid"))
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}

		res, err := checker.Check(r.Context(), entitlement.Identity(uid))
		if err != nil {
			logger := logging.FromContext(r.Context())
			logger.Warn().Err(err).Str("uid", uid).Msg("Entitlement check failed")
			w.Header().Set("Cache-Control", "no-store")
			status := http.StatusInternalServerError
			if errors.Is(err, store.ErrUnavailable) {
				status = http.StatusServiceUnavailable
			}
			writeJSON(w, status, unavailableResponse{Active: false, Status: "unavailable", Error: "entitlement store unavailable"})
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=60")
		writeJSON(w, http.StatusOK, res)
	}
}
