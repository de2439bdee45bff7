package filetransfer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentials_Validate(t *testing.T) {
	tests := []struct {
		name    string
		creds   Credentials
		wantErr string
	}{
		{
			name:  "valid",
			creds: Credentials{Host: "archive.local", Port: 22, User: "bench", KeyPath: "/keys/id_ed25519"},
		},
		{
			name:    "missing host",
			creds:   Credentials{Port: 22, User: "bench", KeyPath: "/keys/id_ed25519"},
			wantErr: "host",
		},
		{
			name:    "bad port",
			creds:   Credentials{Host: "archive.local", Port: 0, User: "bench", KeyPath: "/keys/id_ed25519"},
			wantErr: "port",
		},
		{
			name:    "missing user",
			creds:   Credentials{Host: "archive.local", Port: 22, KeyPath: "/keys/id_ed25519"},
			wantErr: "user",
		},
		{
			name:    "missing key",
			creds:   Credentials{Host: "archive.local", Port: 22, User: "bench"},
			wantErr: "key path",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.creds.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestPublishDir_RejectsEmptyPaths(t *testing.T) {
	p := New(Credentials{Host: "archive.local", Port: 22, User: "bench", KeyPath: "/keys/k"})

	err := p.PublishDir(context.Background(), "", "/archive")
	assert.Error(t, err)

	err = p.PublishDir(context.Background(), t.TempDir(), "")
	assert.Error(t, err)
}

func TestPublishDir_MissingLocalDir(t *testing.T) {
	p := New(Credentials{Host: "archive.local", Port: 22, User: "bench", KeyPath: "/keys/k"})

	err := p.PublishDir(context.Background(), filepath.Join(t.TempDir(), "absent"), "/archive")
	assert.Error(t, err)
}

func TestPublishDir_InvalidCredentialsFailBeforeDial(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte("{}"), 0644))

	p := New(Credentials{}) // nothing set

	err := p.PublishDir(context.Background(), dir, "/archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid credentials")
}

func TestPublishDir_MissingKeyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summary.json"), []byte("{}"), 0644))

	p := New(Credentials{
		Host:    "archive.local",
		Port:    22,
		User:    "bench",
		KeyPath: filepath.Join(t.TempDir(), "no-such-key"),
	})

	err := p.PublishDir(context.Background(), dir, "/archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "private key")
}
