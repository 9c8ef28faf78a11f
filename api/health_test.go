package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ember0/ember/internal/log"
)

type mockPinger struct {
	err error
}

func (m *mockPinger) Ping(context.Context) error { return m.err }

func newHealthMux(db Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	NewHealthHandler(db, log.NewNop()).RegisterRoutes(mux)
	return mux
}

func TestLiveness(t *testing.T) {
	mux := newHealthMux(nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestReadiness(t *testing.T) {
	tests := []struct {
		name string
		db   Pinger
		want int
	}{
		{"healthy", &mockPinger{}, http.StatusOK},
		{"database down", &mockPinger{err: errors.New("connection refused")}, http.StatusServiceUnavailable},
		{"no database", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := newHealthMux(tt.db)
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}
