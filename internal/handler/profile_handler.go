package handler

import (
	"net/http"
	"strconv"

	"go-token-auth/internal/model"
	"go-token-auth/internal/service"
	"go-token-auth/pkg/apierror"
)

type ProfileHandler struct {
	profiles *service.ProfileService
	audit    *service.AuditService
}

func NewProfileHandler(profiles *service.ProfileService, audit *service.AuditService) *ProfileHandler {
	return &ProfileHandler{profiles: profiles, audit: audit}
}

func (h *ProfileHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.profiles.GetProfile(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

func (h *ProfileHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var payload model.UpdateProfileRequest
	if err := decodeJSON(w, r, &payload); err != nil {
		writeError(w, r, err)
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), userID, payload)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// Activity lists the caller's most recent auth events, newest first.
func (h *ProfileHandler) Activity(w http.ResponseWriter, r *http.Request) {
	userID, err := currentUserID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, r, apierror.BadRequest("limit must be a positive integer", "limit"))
			return
		}
		limit = parsed
	}

	entries, err := h.audit.Recent(r.Context(), userID, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": entries})
}
