package credentials

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// Users maps usernames to plaintext passwords; they are hashed on creation.
	Users map[string]string `mapstructure:"users"`

	// Cost is the bcrypt cost (0 = bcrypt.DefaultCost).
	Cost int `mapstructure:"cost"`
}

// MemoryStore keeps users in a map. Contents are lost on restart.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string][]byte
	cost  int
}

// NewMemoryStore creates a store seeded with cfg.Users.
func NewMemoryStore(cfg MemoryStoreConfig) (*MemoryStore, error) {
	s := &MemoryStore{
		users: make(map[string][]byte, len(cfg.Users)),
		cost:  cfg.Cost,
	}

	for username, password := range cfg.Users {
		if err := s.AddUser(context.Background(), username, password); err != nil {
			return nil, fmt.Errorf("seed user %q: %w", username, err)
		}
	}

	return s, nil
}

func (s *MemoryStore) AddUser(ctx context.Context, username, password string) error {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; ok {
		return fmt.Errorf("user %q: %w", username, ErrUserExists)
	}
	s.users[username] = hash
	return nil
}

func (s *MemoryStore) Validate(ctx context.Context, username, password string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	hash, ok := s.users[username]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("user %q: %w", username, ErrUserNotFound)
	}
	return comparePassword(hash, password, username)
}

func (s *MemoryStore) Close() error {
	return nil
}
