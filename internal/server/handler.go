// Copyright 2025 Alibaba Group Holding Ltd.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"k8s.io/klog/v2"

	"github.com/restraint-harness/restraint/internal/config"
	"github.com/restraint-harness/restraint/internal/manager"
	"github.com/restraint-harness/restraint/internal/types"
	api "github.com/restraint-harness/restraint/pkg/client"
)

type Handler struct {
	manager manager.RecipeManager
	config  *config.Config
}

func NewHandler(mgr manager.RecipeManager, cfg *config.Config) *Handler {
	if mgr == nil {
		klog.Warning("RecipeManager is nil, handler may not work properly")
	}
	if cfg == nil {
		klog.Warning("Config is nil, handler may not work properly")
	}
	return &Handler{
		manager: mgr,
		config:  cfg,
	}
}

func (h *Handler) RunRecipe(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	var req api.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.RecipeURL == "" {
		writeError(w, http.StatusBadRequest, "recipe_url is required")
		return
	}

	if err := h.manager.Run(r.Context(), req.RecipeURL); err != nil {
		klog.ErrorS(err, "failed to run recipe", "url", req.RecipeURL)
		writeManagerError(w, "failed to run recipe", err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	klog.InfoS("recipe started via API", "url", req.RecipeURL)
}

func (h *Handler) AbortRecipe(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	var req api.AbortRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
			return
		}
	}

	if err := h.manager.Abort(r.Context(), req.Reason); err != nil {
		klog.ErrorS(err, "failed to abort recipe")
		writeManagerError(w, "failed to abort recipe", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	klog.InfoS("recipe aborted via API", "reason", req.Reason)
}

func (h *Handler) CancelRecipe(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	if err := h.manager.Cancel(r.Context()); err != nil {
		klog.ErrorS(err, "failed to cancel recipe")
		writeManagerError(w, "failed to cancel recipe", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	klog.InfoS("recipe cancelled via API")
}

func (h *Handler) AdjustWatchdog(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	var req api.WatchdogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Seconds <= 0 {
		writeError(w, http.StatusBadRequest, "seconds must be positive")
		return
	}

	if err := h.manager.AdjustWatchdog(r.Context(), req.Seconds); err != nil {
		klog.ErrorS(err, "failed to adjust watchdog", "seconds", req.Seconds)
		writeManagerError(w, "failed to adjust watchdog", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
	klog.InfoS("watchdog adjusted via API", "seconds", req.Seconds)
}

func (h *Handler) ReportResult(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	var req api.ResultRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	result, err := types.ParseResult(req.Result)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	report := manager.ResultReport{Result: result, Path: req.Path, Score: req.Score, Message: req.Message}
	if err := h.manager.ReportResult(r.Context(), report); err != nil {
		klog.ErrorS(err, "failed to report result", "result", req.Result, "path", req.Path)
		writeManagerError(w, "failed to report result", err)
		return
	}

	w.WriteHeader(http.StatusCreated)
	klog.V(1).InfoS("result reported via API", "result", req.Result, "path", req.Path)
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	if h.manager == nil {
		writeError(w, http.StatusInternalServerError, "recipe manager not initialized")
		return
	}

	status, err := h.manager.Status(r.Context())
	if err != nil {
		klog.ErrorS(err, "failed to get status")
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to get status: %v", err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(convertStatus(status))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	response := map[string]string{
		"status": "healthy",
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// writeManagerError maps the sentinel errors of the manager onto status
// codes.
func writeManagerError(w http.ResponseWriter, prefix string, err error) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, types.ErrNotFound):
		code = http.StatusNotFound
	}
	writeError(w, code, fmt.Sprintf("%s: %v", prefix, err))
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(api.ErrorResponse{
		Code:    http.StatusText(code),
		Message: message,
	})
}

func convertStatus(s *manager.Status) *api.Status {
	if s == nil {
		return nil
	}
	out := &api.Status{
		State:     string(s.State),
		RecipeURL: s.RecipeURL,
		RecipeID:  s.RecipeID,
		Summary:   s.Summary,
	}
	for _, t := range s.Tasks {
		out.Tasks = append(out.Tasks, convertTaskStatus(t))
	}
	if s.Current != nil {
		cur := convertTaskStatus(*s.Current)
		out.Current = &cur
	}
	return out
}

func convertTaskStatus(t manager.TaskStatus) api.TaskStatus {
	ts := api.TaskStatus{
		ID:            t.ID,
		Name:          t.Name,
		State:         string(t.State),
		Status:        t.Status,
		Error:         t.Error,
		RemainingTime: t.RemainingTime,
		StartedAt:     t.StartedAt,
		FinishedAt:    t.FinishedAt,
	}
	if t.Result != types.ResultNone {
		ts.Result = t.Result.String()
	}
	return ts
}
