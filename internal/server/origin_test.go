package server_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Tyrowin/roomchat/internal/server"
)

func TestOriginPolicy(t *testing.T) {
	policy := server.NewOriginPolicy([]string{"http://localhost:8080", " HTTPS://Chat.Example.com ", "not a url", ""}, nil)

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{"no origin header", "", true},
		{"exact match", "http://localhost:8080", true},
		{"case insensitive", "https://chat.example.com", true},
		{"wrong port", "http://localhost:9090", false},
		{"wrong scheme", "https://localhost:8080", false},
		{"unknown host", "http://evil.example", false},
		{"garbage", "::::", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, policy.CheckOrigin(req))
		})
	}
}

func TestOriginPolicyWildcard(t *testing.T) {
	policy := server.NewOriginPolicy([]string{"*"}, nil)

	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "http://anything.example")
	assert.True(t, policy.Allowed(req))
}
