// Package target resolves (type, identifier) pairs to stored Santa targets.
package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
)

// maxAttempts bounds the create/read cycle when concurrent requests race on
// the same target.
const maxAttempts = 3

// Resolve returns the target with the given key, creating it if needed.
// It is safe to call concurrently for the same key: a lost insert race is
// detected through the unique constraint and answered by re-reading.
func Resolve(ctx context.Context, store storage.Storage, key domain.TargetKey) (*domain.Target, error) {
	for range maxAttempts {
		target, err := store.GetTarget(ctx, key.Type, key.Identifier)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("getting target: %w", err)
		}

		target = &domain.Target{Type: key.Type, Identifier: key.Identifier}
		err = store.CreateTarget(ctx, target)
		if err == nil {
			return target, nil
		}
		if !errors.Is(err, domain.ErrAlreadyExists) {
			return nil, fmt.Errorf("creating target: %w", err)
		}
	}
	return nil, fmt.Errorf("resolving target %s %s: %w", key.Type, key.Identifier, domain.ErrConflict)
}

// Resolver resolves targets and remembers the results for the lifetime of
// one request.
type Resolver struct {
	store   storage.Storage
	targets map[domain.TargetKey]*domain.Target
}

// NewResolver returns a Resolver working through store, usually a transaction.
func NewResolver(store storage.Storage) *Resolver {
	return &Resolver{
		store:   store,
		targets: make(map[domain.TargetKey]*domain.Target),
	}
}

// Resolve returns the target with the given key, creating it if needed.
func (r *Resolver) Resolve(ctx context.Context, key domain.TargetKey) (*domain.Target, error) {
	if target, ok := r.targets[key]; ok {
		return target, nil
	}
	target, err := Resolve(ctx, r.store, key)
	if err != nil {
		return nil, err
	}
	r.targets[key] = target
	return target, nil
}
