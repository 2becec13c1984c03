package dashboard

import (
	"encoding/json"
	"net/http"

	"github.com/nikitkaralius/curatorbot/internal/logging"
)

// JSON writes a JSON response with the given status code
func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Log.Errorf("DASHBOARD: encode response: %v", err)
	}
}

// ErrorJSON is a shortcut for returning an error as JSON
func ErrorJSON(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
