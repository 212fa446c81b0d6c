package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// memoryRepo mimics the transactional store: WithTx runs against a snapshot
// and commits only on success, so rollback semantics hold in tests.
type memoryRepo struct {
	mu        sync.Mutex
	states    map[string]bucket.State
	movements []Movement
}

type memoryTx struct {
	states   map[string]bucket.State
	inserted []Movement
	reversed []uuid.UUID
}

type memoryBuckets struct {
	tx *memoryTx
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{states: make(map[string]bucket.State)}
}

func stateKey(itemID int64, loc locations.Ref) string {
	return fmt.Sprintf("%d:%s", itemID, loc)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	tx := &memoryTx{states: make(map[string]bucket.State, len(r.states))}
	for k, v := range r.states {
		tx.states[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.states = tx.states
	r.movements = append(r.movements, tx.inserted...)
	for _, id := range tx.reversed {
		for i := range r.movements {
			if r.movements[i].ID == id {
				r.movements[i].Status = StatusReversed
			}
		}
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range r.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return Movement{}, ErrNotFound
}

func (r *memoryRepo) FindByReference(ctx context.Context, referenceType, referenceNo string) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []Movement
	for _, m := range r.movements {
		if m.ReferenceType == referenceType && m.ReferenceNo == referenceNo {
			result = append(result, m)
		}
	}
	return result, nil
}

func (r *memoryRepo) List(ctx context.Context, filter Filter) ([]Movement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]Movement, len(r.movements))
	copy(result, r.movements)
	return result, nil
}

func (r *memoryRepo) state(itemID int64, loc locations.Ref) bucket.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[stateKey(itemID, loc)]; ok {
		return s
	}
	return bucket.State{ItemID: itemID, Location: loc}
}

func (tx *memoryTx) Buckets() bucket.TxStore {
	return &memoryBuckets{tx: tx}
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) error {
	tx.inserted = append(tx.inserted, m)
	return nil
}

func (tx *memoryTx) MarkReversed(ctx context.Context, id uuid.UUID) error {
	tx.reversed = append(tx.reversed, id)
	return nil
}

func (b *memoryBuckets) GetForUpdate(ctx context.Context, itemID int64, loc locations.Ref) (bucket.State, error) {
	if s, ok := b.tx.states[stateKey(itemID, loc)]; ok {
		return s, nil
	}
	return bucket.State{ItemID: itemID, Location: loc}, bucket.ErrStateNotFound
}

func (b *memoryBuckets) Upsert(ctx context.Context, state bucket.State) error {
	b.tx.states[stateKey(state.ItemID, state.Location)] = state
	return nil
}

var (
	branch = locations.Ref{Kind: locations.KindBranch, ID: 1}
	sc     = locations.Ref{Kind: locations.KindServiceCenter, ID: 1}
	tech   = locations.Ref{Kind: locations.KindTechnician, ID: 9}
)

func seed(t *testing.T, svc *Service, itemID int64, loc locations.Ref, qty int64) {
	t.Helper()
	_, err := svc.Record(context.Background(), RecordInput{
		Type: TypeAdjustmentIn, ItemID: itemID, Qty: qty, Destination: loc,
		ReferenceType: "SEED", ReferenceNo: "seed",
	})
	require.NoError(t, err)
}

func TestTechIssueConservesGoodQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, sc, 10)

	_, err := svc.Record(ctx, RecordInput{
		Type: TypeTechIssue, ItemID: 7, Qty: 4, Source: sc, Destination: tech,
		ReferenceType: "SR", ReferenceNo: "SR-1",
	})
	require.NoError(t, err)

	srcGood := repo.state(7, sc).Good
	dstGood := repo.state(7, tech).Good
	require.EqualValues(t, 6, srcGood)
	require.EqualValues(t, 4, dstGood)
	require.EqualValues(t, 10, srcGood+dstGood)
}

func TestFillUpDispatchTouchesDestinationInTransitOnly(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, branch, 50)

	_, err := svc.Record(ctx, RecordInput{
		Type: TypeFillUpDispatch, ItemID: 7, Qty: 18, Source: branch, Destination: sc,
		ReferenceType: "SR", ReferenceNo: "SR-2",
	})
	require.NoError(t, err)

	require.EqualValues(t, 50, repo.state(7, branch).Good)
	require.EqualValues(t, 18, repo.state(7, sc).InTransit)
	require.Zero(t, repo.state(7, sc).Good)
}

func TestFillUpReceiptClosesInTransitLeg(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	_, err := svc.Record(ctx, RecordInput{
		Type: TypeFillUpDispatch, ItemID: 7, Qty: 18, Source: branch, Destination: sc,
		ReferenceType: "SR", ReferenceNo: "SR-3",
	})
	require.NoError(t, err)

	_, err = svc.Record(ctx, RecordInput{
		Type: TypeFillUpReceipt, ItemID: 7, Qty: 18, Source: branch, Destination: sc,
		ReferenceType: "GRN", ReferenceNo: "DOC-3",
	})
	require.NoError(t, err)

	state := repo.state(7, sc)
	require.Zero(t, state.InTransit)
	require.EqualValues(t, 18, state.Good)
}

func TestDefectiveReturnMovesGoodToDefective(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, tech, 3)

	_, err := svc.Record(ctx, RecordInput{
		Type: TypeTechReturnDefective, ItemID: 7, Qty: 2, Source: tech, Destination: sc,
		ReferenceType: "SR", ReferenceNo: "SR-4",
	})
	require.NoError(t, err)

	require.EqualValues(t, 1, repo.state(7, tech).Good)
	require.EqualValues(t, 2, repo.state(7, sc).Defective)
}

func TestInsufficientStockRollsBackEveryEffect(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, sc, 2)

	_, err := svc.Record(ctx, RecordInput{
		Type: TypeTechIssue, ItemID: 7, Qty: 5, Source: sc, Destination: tech,
		ReferenceType: "SR", ReferenceNo: "SR-5",
	})
	require.ErrorIs(t, err, bucket.ErrInsufficientStock)

	require.EqualValues(t, 2, repo.state(7, sc).Good)
	require.Zero(t, repo.state(7, tech).OnHand())
	movements, err := repo.FindByReference(ctx, "SR", "SR-5")
	require.NoError(t, err)
	require.Empty(t, movements)
}

func TestReverseWritesCompensatingRecord(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, sc, 10)

	original, err := svc.Record(ctx, RecordInput{
		Type: TypeTechIssue, ItemID: 7, Qty: 4, Source: sc, Destination: tech,
		ReferenceType: "SR", ReferenceNo: "SR-6",
	})
	require.NoError(t, err)

	reversal, err := svc.Reverse(ctx, original.ID, 11, "damaged in handover")
	require.NoError(t, err)
	require.NotNil(t, reversal.ReversalOf)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.Equal(t, StatusCompleted, reversal.Status)

	require.EqualValues(t, 10, repo.state(7, sc).Good)
	require.Zero(t, repo.state(7, tech).Good)

	stored, err := repo.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReversed, stored.Status)

	_, err = svc.Reverse(ctx, original.ID, 11, "again")
	require.ErrorIs(t, err, ErrAlreadyReversed)
}

func TestUnknownMovementType(t *testing.T) {
	svc := NewService(newMemoryRepo(), nil, nil)
	_, err := svc.Record(context.Background(), RecordInput{Type: Type("TELEPORT"), ItemID: 1, Qty: 1, Destination: sc})
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestConcurrentRecordsNeverOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil)
	ctx := context.Background()

	seed(t, svc, 7, sc, 30)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := svc.Record(ctx, RecordInput{
				Type: TypeTechIssue, ItemID: 7, Qty: 1, Source: sc, Destination: tech,
				ReferenceType: "SR", ReferenceNo: fmt.Sprintf("SR-C%d", n),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var ok, insufficient int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, bucket.ErrInsufficientStock)
		insufficient++
	}
	require.Equal(t, 30, ok)
	require.Equal(t, 20, insufficient)
	require.Zero(t, repo.state(7, sc).Good)
	require.EqualValues(t, 30, repo.state(7, tech).Good)
}
