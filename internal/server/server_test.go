package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewServer(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		s := NewServer(Options{Port: "8080"})

		assert.Equal(t, ":8080", s.Addr())
		assert.Equal(t, defaultReadTimeout, s.httpServer.ReadTimeout)
		assert.Equal(t, defaultWriteTimeout, s.httpServer.WriteTimeout)
		assert.Equal(t, defaultIdleTimeout, s.httpServer.IdleTimeout)
	})

	t.Run("Write timeout covers provider call", func(t *testing.T) {
		s := NewServer(Options{Port: "9090", WriteTimeout: 45 * time.Second})

		assert.Equal(t, 45*time.Second, s.httpServer.WriteTimeout)
		assert.Equal(t, defaultReadTimeout, s.httpServer.ReadTimeout)
	})

	t.Run("Router serves registered routes", func(t *testing.T) {
		s := NewServer(Options{Port: "0"})
		s.Router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		rr := httptest.NewRecorder()
		s.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rr.Code)

		rr = httptest.NewRecorder()
		s.httpServer.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/missing", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
