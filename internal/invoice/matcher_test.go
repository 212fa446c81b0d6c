package invoice

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/sparetrack/sparetrack/internal/masterdata/items"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

type memoryLines struct {
	lines map[int64]*Line
}

func newMemoryLines(lines ...Line) *memoryLines {
	m := &memoryLines{lines: make(map[int64]*Line)}
	for i := range lines {
		line := lines[i]
		m.lines[line.ID] = &line
	}
	return m
}

func (m *memoryLines) OpenLinesForUpdate(ctx context.Context, itemID int64, loc locations.Ref) ([]Line, error) {
	var open []Line
	for _, line := range m.lines {
		if line.ItemID == itemID && line.Location == loc && line.QtyRemaining > 0 {
			open = append(open, *line)
		}
	}
	sort.Slice(open, func(i, j int) bool {
		if open[i].CreatedAt.Equal(open[j].CreatedAt) {
			return open[i].ID < open[j].ID
		}
		return open[i].CreatedAt.Before(open[j].CreatedAt)
	})
	return open, nil
}

func (m *memoryLines) Reserve(ctx context.Context, lineID int64, qty int64) error {
	line, ok := m.lines[lineID]
	if !ok || line.QtyRemaining < qty {
		return ErrLineContention
	}
	line.QtyRemaining -= qty
	return nil
}

type memoryCatalog struct {
	items map[int64]items.Item
}

func (c *memoryCatalog) Get(ctx context.Context, id int64) (items.Item, error) {
	return c.items[id], nil
}

var matcherSC = locations.Ref{Kind: locations.KindServiceCenter, ID: 1}

func day(n int) time.Time {
	return time.Date(2026, time.August, n, 0, 0, 0, 0, time.UTC)
}

func TestAllocateConsumesOldestLinesFirst(t *testing.T) {
	lines := newMemoryLines(
		Line{ID: 1, InvoiceNo: "INV-1", ItemID: 7, Location: matcherSC, UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(18), HSN: "8473", QtyRemaining: 3, CreatedAt: day(1)},
		Line{ID: 2, InvoiceNo: "INV-2", ItemID: 7, Location: matcherSC, UnitPrice: decimal.NewFromInt(120), TaxRate: decimal.NewFromInt(18), HSN: "8473", QtyRemaining: 5, CreatedAt: day(2)},
	)
	matcher := NewMatcher(&memoryCatalog{})

	allocations, err := matcher.Allocate(context.Background(), lines, 7, matcherSC, 4)
	require.NoError(t, err)
	require.Len(t, allocations, 2)

	require.EqualValues(t, 1, allocations[0].InvoiceLineID)
	require.EqualValues(t, 3, allocations[0].Qty)
	require.True(t, allocations[0].UnitPrice.Equal(decimal.NewFromInt(100)))

	require.EqualValues(t, 2, allocations[1].InvoiceLineID)
	require.EqualValues(t, 1, allocations[1].Qty)
	require.True(t, allocations[1].UnitPrice.Equal(decimal.NewFromInt(120)))

	require.EqualValues(t, 0, lines.lines[1].QtyRemaining)
	require.EqualValues(t, 4, lines.lines[2].QtyRemaining)
}

func TestAllocateFallsBackToNominalPrice(t *testing.T) {
	catalog := &memoryCatalog{items: map[int64]items.Item{
		7: {ID: 7, NominalPrice: decimal.NewFromInt(90), TaxRate: decimal.NewFromInt(12), HSN: "8517"},
	}}
	matcher := NewMatcher(catalog)

	allocations, err := matcher.Allocate(context.Background(), newMemoryLines(), 7, matcherSC, 2)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.True(t, allocations[0].Nominal)
	require.EqualValues(t, 2, allocations[0].Qty)
	require.True(t, allocations[0].UnitPrice.Equal(decimal.NewFromInt(90)))
	require.Equal(t, "8517", allocations[0].HSN)
}

func TestAllocatePricesRemainderNominally(t *testing.T) {
	lines := newMemoryLines(
		Line{ID: 1, InvoiceNo: "INV-1", ItemID: 7, Location: matcherSC, UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.NewFromInt(18), QtyRemaining: 1, CreatedAt: day(1)},
	)
	catalog := &memoryCatalog{items: map[int64]items.Item{
		7: {ID: 7, NominalPrice: decimal.NewFromInt(80), TaxRate: decimal.NewFromInt(18)},
	}}
	matcher := NewMatcher(catalog)

	allocations, err := matcher.Allocate(context.Background(), lines, 7, matcherSC, 3)
	require.NoError(t, err)
	require.Len(t, allocations, 2)
	require.False(t, allocations[0].Nominal)
	require.EqualValues(t, 1, allocations[0].Qty)
	require.True(t, allocations[1].Nominal)
	require.EqualValues(t, 2, allocations[1].Qty)
}

func TestAllocateRejectsNonPositiveQty(t *testing.T) {
	matcher := NewMatcher(&memoryCatalog{})
	_, err := matcher.Allocate(context.Background(), newMemoryLines(), 7, matcherSC, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestAllocateIgnoresOtherItemsAndLocations(t *testing.T) {
	otherSC := locations.Ref{Kind: locations.KindServiceCenter, ID: 2}
	lines := newMemoryLines(
		Line{ID: 1, ItemID: 8, Location: matcherSC, UnitPrice: decimal.NewFromInt(55), QtyRemaining: 9, CreatedAt: day(1)},
		Line{ID: 2, ItemID: 7, Location: otherSC, UnitPrice: decimal.NewFromInt(60), QtyRemaining: 9, CreatedAt: day(1)},
		Line{ID: 3, ItemID: 7, Location: matcherSC, UnitPrice: decimal.NewFromInt(70), QtyRemaining: 9, CreatedAt: day(2)},
	)
	matcher := NewMatcher(&memoryCatalog{})

	allocations, err := matcher.Allocate(context.Background(), lines, 7, matcherSC, 4)
	require.NoError(t, err)
	require.Len(t, allocations, 1)
	require.EqualValues(t, 3, allocations[0].InvoiceLineID)
	require.EqualValues(t, 5, lines.lines[3].QtyRemaining)
}
