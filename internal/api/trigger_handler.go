// Package api exposes the HTTP trigger surface.
package api

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/gardna/rocketdrop/internal/pipeline"
)

// TriggerHandler starts a pipeline pass on demand. The caller gets an
// immediate acknowledgment; outcomes are observable only via logs.
type TriggerHandler struct {
	pipeline *pipeline.Pipeline
	log      *zap.Logger
}

// NewTriggerHandler creates a new TriggerHandler instance.
func NewTriggerHandler(p *pipeline.Pipeline, log *zap.Logger) *TriggerHandler {
	return &TriggerHandler{pipeline: p, log: log}
}

// Trigger launches a poll pass in the background and responds immediately.
// An already-running pass is not an error from the caller's point of view:
// the trigger's purpose (mail gets processed soon) is already being served.
func (h *TriggerHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	go func() {
		err := h.pipeline.Run(context.Background())
		if err != nil && !errors.Is(err, pipeline.ErrAlreadyRunning) {
			h.log.Error("pipeline pass failed", zap.Error(err))
		}
	}()

	w.WriteHeader(http.StatusOK)
}
