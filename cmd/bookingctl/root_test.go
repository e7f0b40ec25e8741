package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiobook/studiobook-api/internal/pkg/jwt"
)

func TestRootRegistersCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"migrate", "sweep", "sync", "repair", "incidents", "token"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestSweepOnMemoryStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORAGE_LOCAL_PATH", t.TempDir())

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"sweep"})

	require.NoError(t, root.Execute())
	assert.Equal(t, "expired 0 reservation(s)\n", out.String())
}

func TestSyncRequiresCalendar(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("REDIS_URL", "")
	t.Setenv("STORAGE_LOCAL_PATH", t.TempDir())
	t.Setenv("CALENDAR_SYNC_ENABLED", "false")

	root := newRootCmd()
	root.SetArgs([]string{"sync"})
	root.SetOut(&bytes.Buffer{})

	assert.ErrorIs(t, root.Execute(), errCalendarDisabled)
}

func TestIncidentsRejectsBadDay(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"incidents", "--day", "yesterday"})
	root.SetOut(&bytes.Buffer{})

	assert.Error(t, root.Execute())
}

func TestTokenMintsValidatableToken(t *testing.T) {
	t.Setenv("ENV", "test")
	t.Setenv("JWT_SECRET", "cli-secret")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"token", "--role", "vendor", "--user", "6f1c2a4e-0b7d-4c1e-9d1a-1f2e3d4c5b6a"})
	require.NoError(t, root.Execute())

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	claims, err := jwt.NewService("cli-secret", time.Hour).ValidateAccessToken(strings.TrimPrefix(lines[2], "token="))
	require.NoError(t, err)
	assert.Equal(t, "6f1c2a4e-0b7d-4c1e-9d1a-1f2e3d4c5b6a", claims.UserID.String())
	assert.Equal(t, jwt.RoleVendor, claims.Role)
}
