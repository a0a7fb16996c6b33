package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"livestock-track/internal/model"
	"livestock-track/pkg/apierror"
)

// Timeout answers 503 REQUEST_TIMEOUT in the API envelope when a handler
// runs past d. Writes made by the handler after that point are dropped.
func Timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		d = 30 * time.Second
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: apierror.CodeTimeout, Message: "Request timed out"},
	})

	return func(next http.Handler) http.Handler {
		bounded := http.TimeoutHandler(next, d, string(body))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Handlers that finish in time overwrite this with their own type.
			w.Header().Set("Content-Type", "application/json")
			bounded.ServeHTTP(w, r)
		})
	}
}
