package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	usersPrefix       = "users"
	usersByEmailIndex = "users_by_email"
)

// User is an account record held by the gateway's injected user store
type User struct {
	ID           string    `json:"id" mapstructure:"id"`
	Email        string    `json:"email" mapstructure:"email"`
	PasswordHash string    `json:"-" mapstructure:"password_hash"`
	Roles        []string  `json:"roles" mapstructure:"roles"`
	Permissions  []string  `json:"permissions" mapstructure:"permissions"`
	CreatedAt    time.Time `json:"created_at" mapstructure:"created_at"`
}

// UserStore is the injected account lookup used by the auth endpoints, so
// identity resolution is testable without a live database and swappable for
// a real persistence backend.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)

	// UpdatePasswordHash supports transparent digest upgrades at login
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}

// userStore implements UserStore over a generic Storage, with a secondary
// email index kept in the same store.
type userStore struct {
	store Storage
	clock func() time.Time
}

// NewUserStore builds a UserStore over the given Storage. A nil clock
// selects time.Now.
func NewUserStore(store Storage, clock func() time.Time) UserStore {
	if clock == nil {
		clock = time.Now
	}
	return &userStore{store: store, clock: clock}
}

func (s *userStore) Create(ctx context.Context, user *User) error {
	if user.Email == "" {
		return fmt.Errorf("user requires an email")
	}
	if _, err := s.store.Get(ctx, usersByEmailIndex, user.Email); err == nil {
		return ErrAlreadyExists
	}

	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.clock()
	}

	record, err := Encode(user)
	if err != nil {
		return fmt.Errorf("failed to encode user: %w", err)
	}
	if err := s.store.Put(ctx, usersPrefix, user.ID, record); err != nil {
		return err
	}
	return s.store.Put(ctx, usersByEmailIndex, user.Email, map[string]any{"id": user.ID})
}

func (s *userStore) FindByID(ctx context.Context, id string) (*User, error) {
	record, err := s.store.Get(ctx, usersPrefix, id)
	if err != nil {
		return nil, err
	}

	var user User
	if err := Decode(record, &user); err != nil {
		return nil, fmt.Errorf("failed to decode user %s: %w", id, err)
	}
	return &user, nil
}

func (s *userStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	index, err := s.store.Get(ctx, usersByEmailIndex, email)
	if err != nil {
		return nil, err
	}
	id, _ := index["id"].(string)
	if id == "" {
		return nil, ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func (s *userStore) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	record, err := s.store.Get(ctx, usersPrefix, id)
	if err != nil {
		return err
	}
	record["password_hash"] = hash
	return s.store.Put(ctx, usersPrefix, id, record)
}
