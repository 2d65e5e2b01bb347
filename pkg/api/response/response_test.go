package response

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusCreated, map[string]int{"id": 1})
	if w.Code != http.StatusCreated || w.Body.String() != "{\"id\":1}\n" {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Fatalf("content type=%q", ct)
	}
}

func TestJSON_Unencodable(t *testing.T) {
	w := httptest.NewRecorder()
	JSON(w, http.StatusOK, map[string]any{"ch": make(chan int)})
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()
	Error(w, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
	want := "{\"status\":\"error\",\"error\":\"Rate limit exceeded. Please try again later.\"}\n"
	if w.Code != http.StatusTooManyRequests || w.Body.String() != want {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}
