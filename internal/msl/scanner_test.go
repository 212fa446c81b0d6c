package msl

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/request"
)

func scRefID(id int64) locations.Ref {
	return locations.Ref{Kind: locations.KindServiceCenter, ID: id}
}

type fakeRepo struct {
	shortfalls []Shortfall
	err        error
}

func (f *fakeRepo) ListShortfalls(context.Context) ([]Shortfall, error) {
	return f.shortfalls, f.err
}

type fakeRequests struct {
	mu      sync.Mutex
	open    map[int64]bool
	created []request.CreateInput
	fail    bool
}

func (f *fakeRequests) Create(_ context.Context, input request.CreateInput) (request.SpareRequest, []request.Item, error) {
	if f.fail {
		return request.SpareRequest{}, nil, errors.New("create failed")
	}
	f.mu.Lock()
	f.created = append(f.created, input)
	f.mu.Unlock()
	return request.SpareRequest{Type: request.TypeCFU, Status: request.StatusPending}, nil, nil
}

func (f *fakeRequests) HasOpenRequest(_ context.Context, itemID int64, _ locations.Ref) (bool, error) {
	return f.open[itemID], nil
}

func (f *fakeRequests) byDestination(dest locations.Ref) (request.CreateInput, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, input := range f.created {
		if input.Destination == dest {
			return input, true
		}
	}
	return request.CreateInput{}, false
}

type fakeSources struct {
	branches map[int64]locations.Ref
}

func (f *fakeSources) DefaultSource(_ context.Context, sc locations.Ref) (locations.Ref, error) {
	branch, ok := f.branches[sc.ID]
	if !ok {
		return locations.Ref{}, errors.New("no source configured")
	}
	return branch, nil
}

type fakeMetrics struct {
	raised atomic.Int64
}

func (f *fakeMetrics) FillUpRaised() { f.raised.Add(1) }

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func shortfall(scID, itemID, min, max, good int64) Shortfall {
	return Shortfall{
		Rule: Rule{
			ItemID:        itemID,
			Tier:          locations.TierB,
			MinLevel:      min,
			MaxLevel:      max,
			EffectiveFrom: time.Now().Add(-time.Hour),
			Active:        true,
		},
		ServiceCenter: scRefID(scID),
		Good:          good,
	}
}

func TestScannerRaisesOneRequestPerServiceCenter(t *testing.T) {
	repo := &fakeRepo{shortfalls: []Shortfall{
		shortfall(1, 10, 5, 20, 2),
		shortfall(1, 11, 3, 10, 0),
		shortfall(2, 10, 5, 15, 4),
	}}
	requests := &fakeRequests{open: map[int64]bool{}}
	sources := &fakeSources{branches: map[int64]locations.Ref{
		1: {Kind: locations.KindBranch, ID: 100},
		2: {Kind: locations.KindBranch, ID: 200},
	}}
	metrics := &fakeMetrics{}
	scanner := NewScanner(repo, requests, sources, testRedis(t), slog.Default(), time.Minute, 1).WithMetrics(metrics)

	summary, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Shortfalls)
	assert.Equal(t, 2, summary.Requests)
	assert.Equal(t, 3, summary.Items)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, int64(2), metrics.raised.Load())

	require.Len(t, requests.created, 2)
	first, ok := requests.byDestination(scRefID(1))
	require.True(t, ok)
	assert.Equal(t, request.ReasonMSL, first.Reason)
	assert.Equal(t, locations.Ref{Kind: locations.KindBranch, ID: 100}, first.Source)
	require.Len(t, first.Items, 2)
	assert.Equal(t, int64(18), first.Items[0].Qty)
	assert.Equal(t, int64(10), first.Items[1].Qty)

	second, ok := requests.byDestination(scRefID(2))
	require.True(t, ok)
	require.Len(t, second.Items, 1)
	assert.Equal(t, int64(11), second.Items[0].Qty)
}

func TestScannerSkipsCoveredItems(t *testing.T) {
	repo := &fakeRepo{shortfalls: []Shortfall{
		shortfall(1, 10, 5, 20, 2),
		shortfall(1, 11, 3, 10, 1),
	}}
	requests := &fakeRequests{open: map[int64]bool{10: true}}
	sources := &fakeSources{branches: map[int64]locations.Ref{1: {Kind: locations.KindBranch, ID: 100}}}
	scanner := NewScanner(repo, requests, sources, testRedis(t), slog.Default(), time.Minute, 1)

	summary, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requests)
	assert.Equal(t, 1, summary.Items)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, requests.created, 1)
	assert.Equal(t, int64(11), requests.created[0].Items[0].ItemID)
}

func TestScannerSkipsServiceCenterWithoutSource(t *testing.T) {
	repo := &fakeRepo{shortfalls: []Shortfall{
		shortfall(1, 10, 5, 20, 2),
		shortfall(2, 10, 5, 15, 4),
	}}
	requests := &fakeRequests{open: map[int64]bool{}}
	sources := &fakeSources{branches: map[int64]locations.Ref{2: {Kind: locations.KindBranch, ID: 200}}}
	scanner := NewScanner(repo, requests, sources, testRedis(t), slog.Default(), time.Minute, 1)

	summary, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Requests)
	assert.Equal(t, 1, summary.Skipped)
	require.Len(t, requests.created, 1)
	assert.Equal(t, scRefID(2), requests.created[0].Destination)
}

func TestScannerLockExcludesConcurrentCycles(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	repo := &fakeRepo{}
	requests := &fakeRequests{open: map[int64]bool{}}
	sources := &fakeSources{branches: map[int64]locations.Ref{}}
	scanner := NewScanner(repo, requests, sources, rdb, slog.Default(), time.Minute, 1)

	require.NoError(t, mr.Set(scanLockKey, "other-cycle"))
	_, err := scanner.Run(context.Background())
	require.ErrorIs(t, err, ErrScanLocked)

	mr.Del(scanLockKey)
	_, err = scanner.Run(context.Background())
	require.NoError(t, err)

	// The lock is released after the cycle, not left to expire.
	_, err = scanner.Run(context.Background())
	require.NoError(t, err)
}

func TestScannerCreateFailureDoesNotAbortCycle(t *testing.T) {
	repo := &fakeRepo{shortfalls: []Shortfall{shortfall(1, 10, 5, 20, 2)}}
	requests := &fakeRequests{open: map[int64]bool{}, fail: true}
	sources := &fakeSources{branches: map[int64]locations.Ref{1: {Kind: locations.KindBranch, ID: 100}}}
	scanner := NewScanner(repo, requests, sources, testRedis(t), slog.Default(), time.Minute, 1)

	summary, err := scanner.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Requests)
	assert.Equal(t, 1, summary.Skipped)
}
