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
	"net/http"
)

func NewRouter(h *Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /run", h.RunRecipe)
	mux.HandleFunc("POST /abort", h.AbortRecipe)
	mux.HandleFunc("POST /cancel", h.CancelRecipe)
	mux.HandleFunc("POST /watchdog", h.AdjustWatchdog)
	mux.HandleFunc("POST /results", h.ReportResult)
	mux.HandleFunc("GET /status", h.GetStatus)
	mux.HandleFunc("GET /health", h.Health)

	return mux
}
