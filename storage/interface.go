package storage

import (
	"context"
	"errors"

	"github.com/go-viper/mapstructure/v2"
)

var (
	// ErrNotFound marks a missing record
	ErrNotFound = errors.New("record not found")

	// ErrNotAuthorized marks a record the caller may not touch. The HTTP
	// edge maps this to the same response as ErrNotFound so that existence
	// cannot be probed.
	ErrNotAuthorized = errors.New("not authorized for this record")

	// ErrAlreadyExists marks a unique-key collision
	ErrAlreadyExists = errors.New("record already exists")
)

// Storage is a generic persistence accessor: flat records grouped under a
// collection prefix. Implementations must be safe for concurrent use.
type Storage interface {
	Init(ctx context.Context) error
	Stop() error

	Put(ctx context.Context, prefix string, key string, data map[string]any) error

	// Get returns ErrNotFound for an absent key
	Get(ctx context.Context, prefix string, key string) (map[string]any, error)

	List(ctx context.Context, prefix string) ([]string, error)

	Delete(ctx context.Context, prefix string, key string) error
}

// Decode maps a stored record onto a typed struct
func Decode(record map[string]any, out any) error {
	return mapstructure.Decode(record, out)
}

// Encode turns a typed struct into a storable record
func Encode(in any) (map[string]any, error) {
	var record map[string]any
	if err := mapstructure.Decode(in, &record); err != nil {
		return nil, err
	}
	return record, nil
}
