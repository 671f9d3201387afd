// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/nextcloud/go_call_client/internal/call"
	"github.com/nextcloud/go_call_client/internal/device"
	"github.com/nextcloud/go_call_client/internal/identity"
	"github.com/nextcloud/go_call_client/internal/media"
	"github.com/nextcloud/go_call_client/internal/presence"
	"github.com/nextcloud/go_call_client/internal/service"
)

// CallService is the part of service.Application the control API drives.
type CallService interface {
	Login(ctx context.Context, username string) (*service.Status, error)
	Logout() error
	Status(ctx context.Context) *service.Status
	Presence() ([]presence.Entry, error)
	RefreshPresence(ctx context.Context) ([]presence.Entry, error)
	StartCall(ctx context.Context, callee string) error
	Accept(ctx context.Context) error
	Decline(ctx context.Context) error
	AddParticipant(ctx context.Context, peer string) error
	EndCall(ctx context.Context) error
	Call(ctx context.Context) (call.Snapshot, error)
	Bindings() ([]media.ParticipantBinding, error)
	ToggleMute() (device.Result, error)
	ToggleCamera() (device.Result, error)
	Notifier() *call.Notifier
}

type Handler struct {
	Service CallService
	Secret  string
}

func NewHandler(svc CallService, secret string) *Handler {
	return &Handler{
		Service: svc,
		Secret:  secret,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// writeError maps service errors to status codes.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	var (
		authErr  *identity.AuthError
		ctrlErr  *call.CallControlError
		mediaErr *call.MediaJoinError
	)
	switch {
	case errors.Is(err, identity.ErrInvalidUsername), errors.Is(err, call.ErrInvalidPeer):
		status = http.StatusBadRequest
	case errors.As(err, &authErr):
		status = http.StatusUnauthorized
	case errors.Is(err, identity.ErrAlreadyLoggedIn),
		errors.Is(err, service.ErrNotLoggedIn),
		errors.Is(err, call.ErrBusy),
		errors.Is(err, call.ErrNoInvite),
		errors.Is(err, call.ErrInviteResolved),
		errors.Is(err, call.ErrNotConnected),
		errors.Is(err, call.ErrSuperseded):
		status = http.StatusConflict
	case errors.As(err, &ctrlErr), errors.As(err, &mediaErr), errors.Is(err, call.ErrMediaLost):
		status = http.StatusBadGateway
	case errors.Is(err, call.ErrStopped):
		status = http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return false
	}
	return true
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Status: "ok"})
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Service.Status(r.Context()))
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.Service.Login(r.Context(), req.Username)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Logout(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Logged out."})
}

func (h *Handler) GetPresence(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.Presence()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) RefreshPresence(w http.ResponseWriter, r *http.Request) {
	users, err := h.Service.RefreshPresence(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) StartCall(w http.ResponseWriter, r *http.Request) {
	var req StartCallRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Service.StartCall(r.Context(), req.Callee); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCall(w, r, http.StatusAccepted)
}

func (h *Handler) AcceptCall(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Accept(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCall(w, r, http.StatusAccepted)
}

func (h *Handler) DeclineCall(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.Decline(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCall(w, r, http.StatusOK)
}

func (h *Handler) AddParticipant(w http.ResponseWriter, r *http.Request) {
	var req AddParticipantRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Service.AddParticipant(r.Context(), req.Identity); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Participant invited."})
}

func (h *Handler) EndCall(w http.ResponseWriter, r *http.Request) {
	if err := h.Service.EndCall(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeCall(w, r, http.StatusOK)
}

func (h *Handler) GetCall(w http.ResponseWriter, r *http.Request) {
	h.writeCall(w, r, http.StatusOK)
}

func (h *Handler) writeCall(w http.ResponseWriter, r *http.Request, status int) {
	snap, err := h.Service.Call(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, snap)
}

func (h *Handler) GetBindings(w http.ResponseWriter, r *http.Request) {
	bindings, err := h.Service.Bindings()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, bindings)
}

func (h *Handler) ToggleMute(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ToggleMute()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ToggleCamera(w http.ResponseWriter, r *http.Request) {
	res, err := h.Service.ToggleCamera()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(AuthMiddleware(h.Secret, map[string]bool{"/heartbeat": true}))

	r.Get("/heartbeat", h.Heartbeat)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", h.GetStatus)
		r.Post("/login", h.Login)
		r.Post("/logout", h.Logout)

		r.Get("/presence", h.GetPresence)
		r.Post("/presence/refresh", h.RefreshPresence)

		r.Get("/call", h.GetCall)
		r.Get("/call/bindings", h.GetBindings)
		r.Post("/call/start", h.StartCall)
		r.Post("/call/accept", h.AcceptCall)
		r.Post("/call/decline", h.DeclineCall)
		r.Post("/call/add", h.AddParticipant)
		r.Post("/call/end", h.EndCall)

		r.Post("/media/mute", h.ToggleMute)
		r.Post("/media/camera", h.ToggleCamera)

		r.Get("/events", h.Events)
	})

	return r
}
