// Package api implements the Compose Stack Core's HTTP surface (spec.md
// §6): a go-chi/chi/v5 router over /projects/<slug>/<env>/stacks/...,
// wiring the Change Ledger, Deployment State Machine starter, Monitor &
// Toggle, Environment Cloner, and Third-party Compose Adapter behind one
// set of handlers. Grounded on the teacher's reconciler-as-narrow-interface
// style applied to request handling: each handler depends only on the
// collaborator interfaces it calls.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/zaneops/compose-core/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, logger *logrus.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if kind == "" {
		logger.WithError(err).Error("unhandled internal error")
	}

	resp := errorResponse{Error: err.Error()}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	writeJSON(w, status, resp)
}

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}
