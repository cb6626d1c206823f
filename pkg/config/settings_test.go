package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	s := Settings{
		CacheLocation: "/shared/dockets",
		AccessToken:   "token",
		WorkspaceID:   "ws-1",
	}
	s.ApplyDefaults()

	assert.Equal(t, DefaultConcurrency, s.Concurrency)
	assert.Equal(t, DefaultStalenessWindow, s.StalenessWindow)
	assert.Equal(t, DefaultMaxAttempts, s.MaxAttempts)
	assert.Equal(t, DefaultRetryBaseDelay, s.RetryBaseDelay)
	assert.NotEmpty(t, s.HostName)
}

func TestApplyDefaultsKeepsExplicitValues(t *testing.T) {
	t.Parallel()

	s := Settings{
		Concurrency:     2,
		StalenessWindow: time.Minute,
		MaxAttempts:     5,
		RetryBaseDelay:  time.Second,
		HostName:        "workstation-7",
	}
	s.ApplyDefaults()

	assert.Equal(t, 2, s.Concurrency)
	assert.Equal(t, time.Minute, s.StalenessWindow)
	assert.Equal(t, 5, s.MaxAttempts)
	assert.Equal(t, time.Second, s.RetryBaseDelay)
	assert.Equal(t, "workstation-7", s.HostName)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		settings Settings
		wantErr  string
	}{
		{
			name: "complete",
			settings: Settings{
				CacheLocation: "/shared/dockets",
				AccessToken:   "token",
				WorkspaceID:   "ws-1",
			},
		},
		{
			name:     "missing cache location",
			settings: Settings{AccessToken: "token", WorkspaceID: "ws-1"},
			wantErr:  "cache location",
		},
		{
			name:     "missing access token",
			settings: Settings{CacheLocation: "/shared/dockets", WorkspaceID: "ws-1"},
			wantErr:  "access token",
		},
		{
			name:     "missing workspace",
			settings: Settings{CacheLocation: "/shared/dockets", AccessToken: "token"},
			wantErr:  "workspace id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.settings.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
