package invoice

import (
	"context"
	"fmt"

	"github.com/sparetrack/sparetrack/internal/masterdata/items"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// TxStore reserves invoice-line quantity inside a caller-owned transaction.
// Selection order (oldest created_at first) is stable under contention
// because open lines are locked before reservation.
type TxStore interface {
	OpenLinesForUpdate(ctx context.Context, itemID int64, loc locations.Ref) ([]Line, error)
	Reserve(ctx context.Context, lineID int64, qty int64) error
}

// CatalogPort resolves nominal pricing when invoice history is exhausted.
type CatalogPort interface {
	Get(ctx context.Context, id int64) (items.Item, error)
}

// Matcher prices return/credit movements by consuming the oldest available
// invoice lines first.
type Matcher struct {
	catalog CatalogPort
}

// NewMatcher builds Matcher.
func NewMatcher(catalog CatalogPort) *Matcher {
	return &Matcher{catalog: catalog}
}

// Allocate consumes qty against (item, location) FIFO. Each consumed line
// yields its own priced sub-line; any remainder not covered by invoice
// history is priced at the item's nominal price/tax. Line decrements happen
// in the same transaction as the triggering movement, so a failed approval
// releases every reservation.
func (m *Matcher) Allocate(ctx context.Context, tx TxStore, itemID int64, loc locations.Ref, qty int64) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	lines, err := tx.OpenLinesForUpdate(ctx, itemID, loc)
	if err != nil {
		return nil, err
	}

	var allocations []Allocation
	needed := qty
	for _, line := range lines {
		if needed == 0 {
			break
		}
		take := min64(needed, line.QtyRemaining)
		if take <= 0 {
			continue
		}
		if err := tx.Reserve(ctx, line.ID, take); err != nil {
			return nil, err
		}
		allocations = append(allocations, Allocation{
			InvoiceLineID: line.ID,
			InvoiceNo:     line.InvoiceNo,
			Qty:           take,
			UnitPrice:     line.UnitPrice,
			TaxRate:       line.TaxRate,
			HSN:           line.HSN,
		})
		needed -= take
	}

	if needed > 0 {
		item, err := m.catalog.Get(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("invoice: nominal fallback for item %d: %w", itemID, err)
		}
		allocations = append(allocations, Allocation{
			Qty:       needed,
			UnitPrice: item.NominalPrice,
			TaxRate:   item.TaxRate,
			HSN:       item.HSN,
			Nominal:   true,
		})
	}
	return allocations, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
