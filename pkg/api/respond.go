package api

import (
	"encoding/json"
	"net/http"

	"github.com/graphmill/graphmill/pkg/log"
	"github.com/graphmill/graphmill/pkg/types"
)

func writeJSON(w http.ResponseWriter, status int, body types.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).Msg("Failed to encode response")
	}
}

func writeOK(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, code, message string, detail any) {
	writeJSON(w, status, types.APIResponse{
		Success: false,
		Error:   &types.APIError{Code: code, Message: message, Detail: detail},
	})
}
