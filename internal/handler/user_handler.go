package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"livestock-track/internal/model"
	"livestock-track/internal/service"
	"livestock-track/pkg/apierror"
)

// UserHandler serves the admin account endpoints.
type UserHandler struct {
	service *service.AuthService
}

func NewUserHandler(service *service.AuthService) *UserHandler {
	return &UserHandler{service: service}
}

func (h *UserHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.Validation("user id is required", nil))
		return
	}

	user, err := h.service.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "", userData{User: user})
}

func (h *UserHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	if userID == "" {
		writeError(w, apierror.Validation("user id is required", nil))
		return
	}

	var payload model.UpdateAccountStatusRequest
	if err := decodeJSON(w, r, &payload, false); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.service.UpdateAccountStatus(r.Context(), userID, payload)
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, http.StatusOK, "Account status updated", userData{User: user})
}
