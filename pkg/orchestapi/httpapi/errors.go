/*
Copyright 2024 The Orchest Authors.

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

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/orchest/orchest-api/pkg/orchestapi/controllers"
	"github.com/orchest/orchest-api/pkg/orchestapi/cra"
	"github.com/orchest/orchest-api/pkg/orchestapi/store"
)

// ValidationError wraps a request-shape problem a handler detects before
// ever reaching a controller (a malformed body, a missing required
// field). It maps to 400, distinct from every other error this facade
// translates (§7).
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a ValidationError with msg as its body.
func NewValidationError(msg string) error { return &ValidationError{msg: msg} }

// errorResponse is the JSON body written alongside every non-2xx status.
type errorResponse struct {
	Message string `json:"message"`
}

// writeError maps err to the HTTP status §7 assigns it and writes a JSON
// body, logging anything that resolves to 500 since that always
// indicates a bug or an infrastructure problem an operator should see.
func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	var validation *ValidationError
	var status int
	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, controllers.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict), errors.Is(err, controllers.ErrConflict):
		status = http.StatusConflict
	case errors.Is(err, controllers.ErrSessionInProgress):
		status = http.StatusInternalServerError
	case errors.Is(err, cra.ErrImageNotFound), errors.Is(err, cra.ErrContainerNotFound):
		status = http.StatusInternalServerError
	default:
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logger.Error("httpapi: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorResponse{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return NewValidationError("malformed request body: " + err.Error())
	}
	return nil
}
