package credentials

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/boowebserver/internal/logger"
)

// BadgerStoreConfig configures a BadgerStore.
type BadgerStoreConfig struct {
	// Path is the directory BadgerDB stores its files in
	Path string `mapstructure:"path"`

	// InMemory runs BadgerDB without touching disk (Path is ignored)
	InMemory bool `mapstructure:"in_memory"`

	// Cost is the bcrypt cost (0 = bcrypt.DefaultCost)
	Cost int `mapstructure:"cost"`
}

// BadgerStore persists users in BadgerDB under "user:<name>" keys holding the
// bcrypt hash.
type BadgerStore struct {
	db   *badger.DB
	cost int
}

func userKey(username string) []byte {
	return []byte("user:" + username)
}

// NewBadgerStore opens (or creates) the database.
func NewBadgerStore(ctx context.Context, cfg BadgerStoreConfig) (*BadgerStore, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Path == "" && !cfg.InMemory {
		return nil, errors.New("badger credential store: path is required")
	}

	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.Path, err)
	}

	logger.Debug("Badger credential store opened: path=%s in_memory=%v", cfg.Path, cfg.InMemory)
	return &BadgerStore{db: db, cost: cfg.Cost}, nil
}

func (s *BadgerStore) AddUser(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateInput(username, password); err != nil {
		return err
	}

	hash, err := hashPassword(password, s.cost)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(userKey(username))
		if err == nil {
			return fmt.Errorf("user %q: %w", username, ErrUserExists)
		}
		if err != badger.ErrKeyNotFound {
			return fmt.Errorf("lookup user %q: %w", username, err)
		}
		return txn.Set(userKey(username), hash)
	})
}

func (s *BadgerStore) Validate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var hash []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if err == badger.ErrKeyNotFound {
			return fmt.Errorf("user %q: %w", username, ErrUserNotFound)
		}
		if err != nil {
			return fmt.Errorf("lookup user %q: %w", username, err)
		}
		hash, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return err
	}

	if len(hash) == 0 {
		return fmt.Errorf("user %q: %w", username, ErrUserNotFound)
	}
	return comparePassword(hash, password, username)
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
