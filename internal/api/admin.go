package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/geonexus/entitlements/internal/entitlement"
)

type grantRequest struct {
	Plan string `json:"plan"`
}

type revokeResponse struct {
	UID     string `json:"uid"`
	Revoked bool   `json:"revoked"`
}

// HandleAdminGrant answers POST /admin/entitlements/{uid}/grant.
func HandleAdminGrant(op *entitlement.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.PathValue("uid"))
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}

		var req grantRequest
		if r.ContentLength != 0 {
			r.Body = http.MaxBytesReader(w, r.Body, profileBodyLimit)
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, http.StatusBadRequest, "invalid JSON body")
				return
			}
		}

		p, err := op.Activate(r.Context(), entitlement.Identity(uid), strings.TrimSpace(req.Plan))
		if err != nil {
			writeStoreError(w, r, err, "Admin grant failed")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// HandleAdminRevoke answers POST /admin/entitlements/{uid}/revoke.
func HandleAdminRevoke(op *entitlement.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uid := strings.TrimSpace(r.PathValue("uid"))
		if uid == "" {
			writeError(w, http.StatusBadRequest, "uid is required")
			return
		}
		if err := op.Revoke(r.Context(), entitlement.Identity(uid)); err != nil {
			writeStoreError(w, r, err, "Admin revoke failed")
			return
		}
		writeJSON(w, http.StatusOK, revokeResponse{UID: uid, Revoked: true})
	}
}

// HandleAdminCustomer answers GET /admin/customers?email= or ?uid=.
func HandleAdminCustomer(op *entitlement.Operator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			ins entitlement.Inspection
			err error
		)
		switch {
		case strings.TrimSpace(q.Get("uid")) != "":
			ins, err = op.Inspect(r.Context(), entitlement.Identity(strings.TrimSpace(q.Get("uid"))))
		case strings.TrimSpace(q.Get("email")) != "":
			ins, err = op.InspectEmail(r.Context(), q.Get("email"))
		default:
			writeError(w, http.StatusBadRequest, "email or uid is required")
			return
		}

		if errors.Is(err, entitlement.ErrNotFound) {
			writeError(w, http.StatusNotFound, "customer not found")
			return
		}
		if err != nil {
			writeStoreError(w, r, err, "Admin inspect failed")
			return
		}
		writeJSON(w, http.StatusOK, ins)
	}
}
