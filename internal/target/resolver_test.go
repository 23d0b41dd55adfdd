package target

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zentral/zentral/internal/domain"
	"github.com/zentral/zentral/internal/storage"
	"github.com/zentral/zentral/internal/storage/memory"
)

var testKey = domain.TargetKey{Type: domain.TargetBinary, Identifier: strings.Repeat("a", 64)}

func TestResolveIsIdempotent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	first, err := Resolve(ctx, store, testKey)
	require.NoError(t, err)
	second, err := Resolve(ctx, store, testKey)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	other, err := Resolve(ctx, store, domain.TargetKey{Type: domain.TargetBundle, Identifier: testKey.Identifier})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func TestResolveConcurrent(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			target, err := Resolve(ctx, store, testKey)
			if err != nil {
				t.Errorf("resolve: %v", err)
				return
			}
			ids[i] = target.ID
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

// racingStore loses the first insert race: the target appears between the
// read and the insert.
type racingStore struct {
	storage.Storage
	raced bool
}

func (s *racingStore) CreateTarget(ctx context.Context, target *domain.Target) error {
	if !s.raced {
		s.raced = true
		winner := &domain.Target{Type: target.Type, Identifier: target.Identifier}
		if err := s.Storage.CreateTarget(ctx, winner); err != nil {
			return err
		}
		return domain.ErrAlreadyExists
	}
	return s.Storage.CreateTarget(ctx, target)
}

func TestResolveRetriesAfterLostRace(t *testing.T) {
	store := &racingStore{Storage: memory.New()}
	ctx := context.Background()

	target, err := Resolve(ctx, store, testKey)
	require.NoError(t, err)
	assert.True(t, store.raced)
	assert.NotZero(t, target.ID)
}

type brokenStore struct {
	storage.Storage
}

func (s *brokenStore) GetTarget(ctx context.Context, targetType domain.TargetType, identifier string) (*domain.Target, error) {
	return nil, errors.New("connection reset")
}

func TestResolvePropagatesStoreErrors(t *testing.T) {
	_, err := Resolve(context.Background(), &brokenStore{Storage: memory.New()}, testKey)
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)
}

func TestResolverMemoizes(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	r := NewResolver(store)

	first, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	second, err := r.Resolve(ctx, testKey)
	require.NoError(t, err)
	assert.Same(t, first, second)
}
