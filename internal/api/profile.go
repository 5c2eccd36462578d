package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/geonexus/entitlements/internal/entitlement"
	"github.com/geonexus/entitlements/internal/logging"
	"github.com/geonexus/entitlements/internal/store"
)

const profileBodyLimit = 64 * 1024

type upsertResponse struct {
	Success bool                 `json:"success"`
	Profile *entitlement.Profile `json:"profile"`
}

// HandleGetProfile answers GET /api/customer-profile?uid=.
func HandleGetProfile(profiles *entitlement.Profiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.URL.Query().Get("uid"))
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}

		view, err := profiles.Get(r.Context(), entitlement.Identity(uid))
		if err != nil {
			writeStoreError(w, r, err, "Profile fetch failed")
			return
		}

		w.Header().Set("Cache-Control", "private, max-age=30")
		writeJSON(w, http.StatusOK, view)
	}
}

// HandleUpsertProfile answers POST /api/customer-profile.
func HandleUpsertProfile(profiles *entitlement.Profiles) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, profileBodyLimit)
		var in entitlement.ProfileInput
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}

		p, err := profiles.Upsert(r.Context(), in)
		if errors.Is(err, entitlement.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, "uid and email are required")
			return
		}
		if err != nil {
			writeStoreError(w, r, err, "Profile save failed")
			return
		}

		verb := "Customer profile updated"
		if in.Action == "register" {
			verb = "Customer registered"
		}
		logger := logging.FromContext(r.Context())
		logger.Info().Str("uid", p.UID).Int("login_count", p.LoginCount).Msg(verb)

		writeJSON(w, http.StatusOK, upsertResponse{Success: true, Profile: p})
	}
}

func writeStoreError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	logger := logging.FromContext(r.Context())
	logger.Error().Err(err).Msg(msg)
	w.Header().Set("Cache-Control", "no-store")
	if errors.Is(err, store.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "entitlement store unavailable")
		return
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
