package server_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/server"
)

func TestHealthHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	server.HealthHandler(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "roomchat server is running!", rec.Body.String())
}

func TestWebSocketHandlerRejectsNonGet(t *testing.T) {
	srv := server.New(config.Default().Server, newTestDeps(t), nil)
	routes := srv.Routes()

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodDelete} {
		rec := httptest.NewRecorder()
		routes.ServeHTTP(rec, httptest.NewRequest(method, "/ws", nil))
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, method)
	}
}

func TestWebSocketHandlerRequiresUpgrade(t *testing.T) {
	srv := server.New(config.Default().Server, newTestDeps(t), nil)

	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
