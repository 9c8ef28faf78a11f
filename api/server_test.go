package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ember0/ember/internal/log"
)

func TestServer_Handler_Routes(t *testing.T) {
	srv := NewServer(&mockPinger{}, &mockConversationStore{}, nil, log.NewNop())
	handler := srv.Handler()

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/ready", http.StatusOK},
		{http.MethodGet, "/api/conversations", http.StatusBadRequest}, // username missing
		{http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestServer_RecoversFromPanic(t *testing.T) {
	srv := NewServer(&panickingPinger{}, &mockConversationStore{}, nil, log.NewNop())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 from recovery middleware", rec.Code)
	}
}

type panickingPinger struct{}

func (panickingPinger) Ping(context.Context) error { panic("boom") }
