package httpx

import (
	"encoding/json"
	"net/http"
)

// errorBody is the envelope every non-2xx response carries.
type errorBody struct {
	Error string `json:"error"`
}

// writeJSON marshals the payload before touching the response, so an
// encoding failure still yields a well-formed 500 instead of a truncated
// body after the status line has gone out.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"response encoding failed"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
