package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/studiobook/studiobook-api/internal/config"
)

func TestNewServerOutlivesRequestTimeout(t *testing.T) {
	srv := newServer(&config.Config{Port: "9090"}, nil)

	assert.Equal(t, ":9090", srv.Addr)
	// Handlers are cut off at 30s; the write deadline must leave room for the error response.
	assert.Greater(t, srv.WriteTimeout, 30*time.Second)
	assert.Equal(t, 60*time.Second, srv.IdleTimeout)
}
