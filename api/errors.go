package api

// writeError renders a core.Error as the JSON error shape of spec.md §7:
// "user-visible messages carry the error kind and enough context to act."

import (
	"encoding/json"
	"errors"
	"net/http"

	"indexer-core/core"
)

type errorBody struct {
	Kind    string `json:"kind"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	var ce *core.Error
	if !errors.As(err, &ce) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(errorBody{Kind: "fatal", Message: err.Error()})
		return
	}

	w.WriteHeader(statusForKind(ce.Kind))
	json.NewEncoder(w).Encode(errorBody{Kind: string(ce.Kind), Code: ce.Code, Message: ce.Message})
}

func statusForKind(k core.Kind) int {
	switch k {
	case core.KindSchema:
		return http.StatusBadRequest
	case core.KindAuth:
		return http.StatusPaymentRequired
	case core.KindConflict:
		return http.StatusConflict
	case core.KindNotFound:
		return http.StatusNotFound
	case core.KindPrecondition:
		return http.StatusPreconditionFailed
	case core.KindTransient:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
