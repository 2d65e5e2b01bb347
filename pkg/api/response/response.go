package response

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every error reply: {"status":"error","error":msg}.
type ErrorResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

// JSON writes payload with status. The payload is encoded before the header
// goes out, so an unencodable value becomes a plain 500.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if payload == nil {
		w.WriteHeader(status)
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"status":"error","error":"internal error"}` + "\n"))
		return
	}
	w.WriteHeader(status)
	_, _ = w.Write(append(raw, '\n'))
}

func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, ErrorResponse{Status: "error", Error: msg})
}
