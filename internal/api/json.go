package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", slog.String("error", err.Error()))
	}
}

type errResponse struct {
	Error  string            `json:"error" validate:"required"`
	Fields map[string]string `json:"fields,omitempty"`
}

func errorBody(msg string) errResponse {
	return errResponse{Error: msg}
}

// writeInvalid reports a failed request validation, one message per field.
func writeInvalid(w http.ResponseWriter, err error) {
	body := errorBody("invalid request")
	var fields validation.Errors
	if errors.As(err, &fields) {
		body.Fields = make(map[string]string, len(fields))
		for name, ferr := range fields {
			body.Fields[name] = ferr.Error()
		}
	} else {
		body.Error = err.Error()
	}
	writeJSON(w, http.StatusBadRequest, body)
}
