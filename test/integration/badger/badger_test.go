//go:build integration

package badger_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/marmos91/boowebserver/pkg/config"
	"github.com/marmos91/boowebserver/pkg/credentials"
	"github.com/marmos91/boowebserver/test/e2e/framework"
)

// TestBadgerPersistence adds a user, closes the store, and checks the user
// survives a reopen both through the factory and through a running server.
func TestBadgerPersistence(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "users")

	credCfg := config.CredentialsConfig{
		Type:   "badger",
		Badger: map[string]any{"path": dbPath, "cost": 4},
	}

	store, err := config.CreateCredentialStore(ctx, &credCfg)
	if err != nil {
		t.Fatalf("Failed to create badger store: %v", err)
	}
	if err := store.AddUser(ctx, "dave", "hunter2"); err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if err := store.AddUser(ctx, "dave", "other"); err == nil {
		t.Fatal("expected duplicate AddUser to fail")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	t.Run("Reopen", func(t *testing.T) {
		store, err := config.CreateCredentialStore(ctx, &credCfg)
		if err != nil {
			t.Fatalf("Failed to reopen badger store: %v", err)
		}
		defer store.Close()

		if err := store.Validate(ctx, "dave", "hunter2"); err != nil {
			t.Errorf("Validate after reopen: %v", err)
		}
		if err := store.Validate(ctx, "dave", "wrong"); !credentials.IsUnauthorized(err) {
			t.Errorf("expected unauthorized, got %v", err)
		}
	})

	t.Run("Login", func(t *testing.T) {
		ts := framework.NewTestServer(t, framework.TestServerConfig{Credentials: credCfg})
		if err := ts.Start(); err != nil {
			t.Fatalf("Failed to start server: %v", err)
		}
		defer func() {
			if err := ts.Stop(); err != nil {
				t.Errorf("Stop: %v", err)
			}
		}()

		reply, err := ts.Client().Login("dave", "hunter2")
		if err != nil {
			t.Fatalf("Login failed: %v", err)
		}
		if reply.Code != 200 {
			t.Errorf("expected 200, got %q", reply.StatusLine)
		}
	})
}
