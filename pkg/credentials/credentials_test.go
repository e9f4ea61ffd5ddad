package credentials

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// storeFactory builds an empty store for the shared suite.
type storeFactory func(t *testing.T) Store

func runStoreSuite(t *testing.T, newStore storeFactory) {
	ctx := context.Background()

	t.Run("ValidLogin", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddUser(ctx, "alice", "secret"))
		assert.NoError(t, s.Validate(ctx, "alice", "secret"))
	})

	t.Run("WrongPassword", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddUser(ctx, "alice", "secret"))

		err := s.Validate(ctx, "alice", "nope")
		assert.ErrorIs(t, err, ErrPasswordMismatch)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("UnknownUser", func(t *testing.T) {
		s := newStore(t)

		err := s.Validate(ctx, "bob", "secret")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.True(t, IsUnauthorized(err))
	})

	t.Run("DuplicateUser", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddUser(ctx, "alice", "secret"))
		assert.ErrorIs(t, s.AddUser(ctx, "alice", "other"), ErrUserExists)
	})

	t.Run("EmptyInput", func(t *testing.T) {
		s := newStore(t)
		assert.Error(t, s.AddUser(ctx, "", "secret"))
		assert.Error(t, s.AddUser(ctx, "alice", ""))
	})

	t.Run("PasswordIsHashed", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.AddUser(ctx, "alice", "secret"))
		// A second user with the same password must still validate independently.
		require.NoError(t, s.AddUser(ctx, "carol", "secret"))
		assert.NoError(t, s.Validate(ctx, "carol", "secret"))
		assert.ErrorIs(t, s.Validate(ctx, "carol", "Secret"), ErrPasswordMismatch)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewMemoryStore(MemoryStoreConfig{Cost: bcrypt.MinCost})
		require.NoError(t, err)
		return s
	})
}

func TestMemoryStore_Seeded(t *testing.T) {
	s, err := NewMemoryStore(MemoryStoreConfig{
		Users: map[string]string{"admin": "hunter2"},
		Cost:  bcrypt.MinCost,
	})
	require.NoError(t, err)

	assert.NoError(t, s.Validate(context.Background(), "admin", "hunter2"))
}

func TestBadgerStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewBadgerStore(context.Background(), BadgerStoreConfig{
			Path: filepath.Join(t.TempDir(), "users"),
			Cost: bcrypt.MinCost,
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestBadgerStore_Persistence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "users")

	s, err := NewBadgerStore(ctx, BadgerStoreConfig{Path: path, Cost: bcrypt.MinCost})
	require.NoError(t, err)
	require.NoError(t, s.AddUser(ctx, "alice", "secret"))
	require.NoError(t, s.Close())

	s, err = NewBadgerStore(ctx, BadgerStoreConfig{Path: path, Cost: bcrypt.MinCost})
	require.NoError(t, err)
	defer s.Close()

	assert.NoError(t, s.Validate(ctx, "alice", "secret"))
}

func TestBadgerStore_BackendFailure(t *testing.T) {
	ctx := context.Background()
	s, err := NewBadgerStore(ctx, BadgerStoreConfig{InMemory: true, Cost: bcrypt.MinCost})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Validate(ctx, "alice", "secret")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
}

func TestNewBadgerStore_RequiresPath(t *testing.T) {
	_, err := NewBadgerStore(context.Background(), BadgerStoreConfig{})
	assert.Error(t, err)
}

func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()
	s, err := NewSQLStore(context.Background(), SQLStoreConfig{
		Driver:       DriverSQLite,
		DSN:          "file:" + filepath.Join(t.TempDir(), "users.db"),
		CreateSchema: true,
		Cost:         bcrypt.MinCost,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStore_SQLite(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return newSQLiteStore(t)
	})
}

func TestSQLStore_EmptyPasswordIsNotFound(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, "INSERT INTO users (username, pwd) VALUES (?, '')", "ghost")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Validate(ctx, "ghost", ""), ErrUserNotFound)
}

func TestSQLStore_PlaintextPasswordIsMismatch(t *testing.T) {
	s := newSQLiteStore(t)
	ctx := context.Background()

	// Rows written by tools that stored pwd as plaintext.
	for _, row := range [][2]string{
		{"legacy", "hunter2"},
		{"legacy-long", "correct-horse-battery-staple-correct-horse-battery-staple-correct"},
		{"legacy-dollar", "$2a$xx$correct-horse-battery-staple-correct-horse-battery-staple"},
	} {
		_, err := s.db.ExecContext(ctx, "INSERT INTO users (username, pwd) VALUES (?, ?)", row[0], row[1])
		require.NoError(t, err)
	}

	for _, user := range []string{"legacy", "legacy-long", "legacy-dollar"} {
		err := s.Validate(ctx, user, "hunter2")
		assert.ErrorIs(t, err, ErrPasswordMismatch, user)
		assert.True(t, IsUnauthorized(err), user)
	}
}

func TestSQLStore_BackendFailure(t *testing.T) {
	s := newSQLiteStore(t)
	require.NoError(t, s.db.Close())

	err := s.Validate(context.Background(), "alice", "secret")
	require.Error(t, err)
	assert.False(t, IsUnauthorized(err))
}

func TestSQLStore_Rebind(t *testing.T) {
	s := &SQLStore{driver: DriverPostgres}
	assert.Equal(t, "INSERT INTO users (username, pwd) VALUES ($1, $2)",
		s.rebind("INSERT INTO users (username, pwd) VALUES (?, ?)"))

	s.driver = DriverSQLite
	assert.Equal(t, "SELECT 1 WHERE a = ?", s.rebind("SELECT 1 WHERE a = ?"))
}

func TestNewSQLStore_Validation(t *testing.T) {
	ctx := context.Background()

	_, err := NewSQLStore(ctx, SQLStoreConfig{Driver: "mysql", DSN: "x"})
	assert.Error(t, err)

	_, err = NewSQLStore(ctx, SQLStoreConfig{Driver: DriverSQLite})
	assert.Error(t, err)
}
