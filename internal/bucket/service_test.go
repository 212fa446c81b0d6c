package bucket

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

type memoryStore struct {
	mu     sync.Mutex
	states map[string]State
}

type memoryTx struct {
	store *memoryStore
}

func newMemoryStore() *memoryStore {
	return &memoryStore{states: make(map[string]State)}
}

func stateKey(itemID int64, loc locations.Ref) string {
	return fmt.Sprintf("%d:%s", itemID, loc)
}

func (s *memoryStore) WithTx(ctx context.Context, fn func(context.Context, TxStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(ctx, &memoryTx{store: s})
}

func (s *memoryStore) Get(ctx context.Context, itemID int64, loc locations.Ref) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state, ok := s.states[stateKey(itemID, loc)]; ok {
		return state, nil
	}
	return State{ItemID: itemID, Location: loc}, nil
}

func (s *memoryStore) ListByLocation(ctx context.Context, loc locations.Ref) ([]State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []State
	for _, state := range s.states {
		if state.Location == loc {
			result = append(result, state)
		}
	}
	return result, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, itemID int64, loc locations.Ref) (State, error) {
	if state, ok := tx.store.states[stateKey(itemID, loc)]; ok {
		return state, nil
	}
	return State{ItemID: itemID, Location: loc}, ErrStateNotFound
}

func (tx *memoryTx) Upsert(ctx context.Context, state State) error {
	tx.store.states[stateKey(state.ItemID, state.Location)] = state
	return nil
}

var testSC = locations.Ref{Kind: locations.KindServiceCenter, ID: 1}

func TestMutateKeepsCountersNonNegative(t *testing.T) {
	state := State{ItemID: 7, Location: testSC}

	require.NoError(t, Mutate(&state, Good, Increase, 5))
	require.EqualValues(t, 5, state.Good)

	require.NoError(t, Mutate(&state, Good, Decrease, 5))
	require.EqualValues(t, 0, state.Good)

	err := Mutate(&state, Good, Decrease, 1)
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.EqualValues(t, 0, state.Good)

	require.ErrorIs(t, Mutate(&state, Defective, Decrease, 3), ErrInsufficientStock)
	require.ErrorIs(t, Mutate(&state, InTransit, Decrease, 3), ErrInsufficientStock)
}

func TestMutateRejectsInvalidInput(t *testing.T) {
	state := State{ItemID: 7, Location: testSC}

	require.ErrorIs(t, Mutate(&state, Good, Increase, 0), ErrInvalidQuantity)
	require.ErrorIs(t, Mutate(&state, Good, Increase, -4), ErrInvalidQuantity)
	require.ErrorIs(t, Mutate(&state, Bucket("BROKEN"), Increase, 1), ErrInvalidBucket)
	require.ErrorIs(t, Mutate(&state, Good, Operation("SHRUG"), 1), ErrInvalidBucket)
	require.Zero(t, state.OnHand())
}

func TestApplyCreatesRowLazily(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	state, err := svc.Apply(ctx, ApplyInput{ItemID: 7, Location: testSC, Bucket: Good, Operation: Increase, Qty: 10})
	require.NoError(t, err)
	require.EqualValues(t, 10, state.Good)

	got, err := svc.Get(ctx, 7, testSC)
	require.NoError(t, err)
	require.EqualValues(t, 10, got.Good)
	require.Zero(t, got.Defective)
	require.Zero(t, got.InTransit)
}

func TestGetDoesNotCreateRows(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store)

	state, err := svc.Get(context.Background(), 42, testSC)
	require.NoError(t, err)
	require.Zero(t, state.OnHand())
	require.Empty(t, store.states)
}

func TestApplyRejectsOverdraw(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Apply(ctx, ApplyInput{ItemID: 7, Location: testSC, Bucket: Good, Operation: Increase, Qty: 3})
	require.NoError(t, err)

	_, err = svc.Apply(ctx, ApplyInput{ItemID: 7, Location: testSC, Bucket: Good, Operation: Decrease, Qty: 4})
	require.ErrorIs(t, err, ErrInsufficientStock)

	state, err := svc.Get(ctx, 7, testSC)
	require.NoError(t, err)
	require.EqualValues(t, 3, state.Good)
}

func TestApplySerialisesConcurrentDecrements(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store)
	ctx := context.Background()

	_, err := svc.Apply(ctx, ApplyInput{ItemID: 7, Location: testSC, Bucket: Good, Operation: Increase, Qty: 30})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Apply(ctx, ApplyInput{ItemID: 7, Location: testSC, Bucket: Good, Operation: Decrease, Qty: 1})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		default:
			require.ErrorIs(t, err, ErrInsufficientStock)
			insufficient++
		}
	}
	require.Equal(t, 30, ok)
	require.Equal(t, 20, insufficient)

	state, err := svc.Get(ctx, 7, testSC)
	require.NoError(t, err)
	require.Zero(t, state.Good)
}
