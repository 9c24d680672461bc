/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package httpapi is the HTTP surface: upload, status, results, SSE,
// edit-session and export endpoints, all thin adapters onto the job
// pipeline core.
package httpapi

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/jordigilh/riskline/internal/errkind"
)

// statusForKind is the single place kind maps to an HTTP status, so
// individual handlers never choose status codes themselves.
func statusForKind(kind errkind.Kind) int {
	switch kind {
	case errkind.Validation:
		return http.StatusBadRequest
	case errkind.NotFound:
		return http.StatusNotFound
	case errkind.Conflict:
		return http.StatusConflict
	case errkind.TransientUpstream, errkind.FatalPipeline, errkind.CorruptOutput, errkind.Internal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as the stable {"error": "..."} JSON body at
// the status its errkind.Kind maps to. The message text is for
// operator consumption only, never a stable contract.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	kind := errkind.Of(err)
	status := statusForKind(kind)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
