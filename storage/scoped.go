package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/stephnangue/vanguard/token"
)

// DefaultOwnerField is the record field holding the owning identity's id
const DefaultOwnerField = "owner_id"

// ScopedView wraps a generic Storage so that reads and writes on one
// collection are automatically restricted to the caller's own records.
// Administrators and explicitly public queries bypass the owner filter.
//
// The view holds no state of its own; the underlying store's transaction
// discipline is out of its hands.
type ScopedView struct {
	store      Storage
	prefix     string
	ownerField string
}

// NewScopedView builds an ownership-scoped view over one collection.
// An empty ownerField selects DefaultOwnerField.
func NewScopedView(store Storage, prefix, ownerField string) *ScopedView {
	if ownerField == "" {
		ownerField = DefaultOwnerField
	}
	return &ScopedView{
		store:      store,
		prefix:     prefix,
		ownerField: ownerField,
	}
}

// Create stores a record owned by the caller. The owner field is always
// taken from the verified identity, never from the record itself, so a
// body-supplied owner id cannot plant records under someone else's account.
func (v *ScopedView) Create(ctx context.Context, identity *token.Identity, key string, record map[string]any) error {
	if identity == nil {
		return ErrNotAuthorized
	}

	if _, err := v.store.Get(ctx, v.prefix, key); err == nil {
		return ErrAlreadyExists
	}

	record[v.ownerField] = identity.ID
	return v.store.Put(ctx, v.prefix, key, record)
}

// GetByID fetches one record. Unless the query is public, callers that are
// neither the owner nor an administrator get ErrNotAuthorized instead of
// the record.
func (v *ScopedView) GetByID(ctx context.Context, identity *token.Identity, key string, public bool) (map[string]any, error) {
	record, err := v.store.Get(ctx, v.prefix, key)
	if err != nil {
		return nil, err
	}

	if public || v.allowed(identity, record) {
		return record, nil
	}
	return nil, ErrNotAuthorized
}

// List returns the caller's records. Administrators and public queries see
// the whole collection. Results are ordered by key for stable pagination
// upstream.
func (v *ScopedView) List(ctx context.Context, identity *token.Identity, public bool) ([]map[string]any, error) {
	keys, err := v.store.List(ctx, v.prefix)
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	unfiltered := public || (identity != nil && identity.IsAdmin())

	var records []map[string]any
	for _, key := range keys {
		record, err := v.store.Get(ctx, v.prefix, key)
		if err != nil {
			// Deleted between List and Get; skip
			continue
		}
		if unfiltered || v.owns(identity, record) {
			records = append(records, record)
		}
	}
	return records, nil
}

// Update re-reads the record's owner field at call time, then merges the
// patch. The check never trusts cached data, though check and mutation are
// not one atomic transaction.
func (v *ScopedView) Update(ctx context.Context, identity *token.Identity, key string, patch map[string]any) error {
	record, err := v.store.Get(ctx, v.prefix, key)
	if err != nil {
		return err
	}
	if !v.allowed(identity, record) {
		return ErrNotAuthorized
	}

	for field, value := range patch {
		if field == v.ownerField {
			// Ownership is not transferable through a patch
			continue
		}
		record[field] = value
	}
	return v.store.Put(ctx, v.prefix, key, record)
}

// Delete performs the same fresh ownership check as Update before removal
func (v *ScopedView) Delete(ctx context.Context, identity *token.Identity, key string) error {
	record, err := v.store.Get(ctx, v.prefix, key)
	if err != nil {
		return err
	}
	if !v.allowed(identity, record) {
		return ErrNotAuthorized
	}

	return v.store.Delete(ctx, v.prefix, key)
}

// Owner resolves the owner id of one record, for route-level ownership
// checks that run before the authorization decision completes.
func (v *ScopedView) Owner(ctx context.Context, key string) (string, error) {
	record, err := v.store.Get(ctx, v.prefix, key)
	if err != nil {
		return "", err
	}
	owner, _ := record[v.ownerField].(string)
	if owner == "" {
		return "", fmt.Errorf("record %s/%s has no %s field", v.prefix, key, v.ownerField)
	}
	return owner, nil
}

func (v *ScopedView) allowed(identity *token.Identity, record map[string]any) bool {
	if identity == nil {
		return false
	}
	return identity.IsAdmin() || v.owns(identity, record)
}

func (v *ScopedView) owns(identity *token.Identity, record map[string]any) bool {
	if identity == nil {
		return false
	}
	owner, _ := record[v.ownerField].(string)
	return owner != "" && owner == identity.ID
}
