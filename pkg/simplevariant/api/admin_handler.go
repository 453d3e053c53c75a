package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/simple-variant/pkg/simplevariant"
	"github.com/tendant/simple-variant/pkg/simplevariant/reconcile"
)

// AdminHandler exposes maintenance endpoints: reconciler control and
// per-image regeneration.
type AdminHandler struct {
	service    simplevariant.Service
	reconciler *reconcile.Reconciler
}

// NewAdminHandler creates an admin handler. reconciler may be nil, in which
// case the reconcile routes are not registered.
func NewAdminHandler(service simplevariant.Service, reconciler *reconcile.Reconciler) *AdminHandler {
	return &AdminHandler{
		service:    service,
		reconciler: reconciler,
	}
}

// Routes returns the router for admin endpoints
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	if h.reconciler != nil {
		r.Route("/reconcile", func(r chi.Router) {
			r.Get("/status", h.ReconcileStatus)
			r.Post("/trigger", h.TriggerReconcile)
			r.Post("/start", h.StartReconciler)
			r.Post("/stop", h.StopReconciler)
		})
	}
	r.Post("/images/{id}/regenerate", h.Regenerate)
	r.Delete("/images/{id}/variants", h.DeleteVariants)
	return r
}

// RegenerateRequest names the variants to rebuild; empty means all
type RegenerateRequest struct {
	Variants []string `json:"variants,omitempty"`
}

// RegenerateResponse lists the variants that were rebuilt
type RegenerateResponse struct {
	ImageID     string   `json:"image_id"`
	Regenerated []string `json:"regenerated"`
}

// StatusResponse acknowledges a control request
type StatusResponse struct {
	Status string `json:"status"`
}

// ReconcileStatus reports the reconciler state and last run
func (h *AdminHandler) ReconcileStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, h.reconciler.Status())
}

// TriggerReconcile starts a forced pass in the background
func (h *AdminHandler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	if err := h.reconciler.Trigger(r.Context()); err != nil {
		writeServiceError(w, r, err)
		return
	}
	slog.Info("Reconciliation triggered")
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, StatusResponse{Status: "started"})
}

// StartReconciler starts the periodic scheduler
func (h *AdminHandler) StartReconciler(w http.ResponseWriter, r *http.Request) {
	// the scheduler outlives the request
	if err := h.reconciler.Start(context.WithoutCancel(r.Context())); err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, StatusResponse{Status: "started"})
}

// StopReconciler stops the periodic scheduler
func (h *AdminHandler) StopReconciler(w http.ResponseWriter, r *http.Request) {
	if err := h.reconciler.Stop(); err != nil {
		writeServiceError(w, r, err)
		return
	}
	render.JSON(w, r, StatusResponse{Status: "stopped"})
}

// Regenerate rebuilds an image's variants synchronously
func (h *AdminHandler) Regenerate(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(w, r)
	if !ok {
		return
	}

	var req RegenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, r, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	generated, err := h.service.Regenerate(r.Context(), id, req.Variants...)
	if err != nil {
		slog.Error("Failed to regenerate variants", "image_id", id, "error", err)
		writeServiceError(w, r, err)
		return
	}

	names := make([]string, 0, len(generated))
	for name := range generated {
		names = append(names, name)
	}
	sort.Strings(names)

	slog.Info("Variants regenerated", "image_id", id, "variants", names)
	render.JSON(w, r, RegenerateResponse{ImageID: id.String(), Regenerated: names})
}

// DeleteVariants removes every variant of an image, keeping the original
func (h *AdminHandler) DeleteVariants(w http.ResponseWriter, r *http.Request) {
	id, ok := parseImageID(w, r)
	if !ok {
		return
	}

	if err := h.service.DeleteVariants(r.Context(), id); err != nil {
		slog.Error("Failed to delete variants", "image_id", id, "error", err)
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
