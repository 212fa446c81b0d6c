package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/sparetrack/sparetrack/internal/bucket"
	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Type enumerates supported movement types. Adding a type is one row in the
// effect table below.
type Type string

const (
	// TypeFillUpDispatch raises destination IN_TRANSIT only; the source side
	// is untouched, modeling stock in flight from the branch.
	TypeFillUpDispatch Type = "FILL_UP_DISPATCH"
	// TypeFillUpReceipt closes the in-transit leg at the destination.
	TypeFillUpReceipt Type = "FILL_UP_RECEIPT"
	// TypePickupDispatch opens an in-transit leg for a branch pickup.
	TypePickupDispatch Type = "PICKUP_DISPATCH"
	// TypePickupReceipt closes a branch-pickup leg.
	TypePickupReceipt Type = "PICKUP_RECEIPT"
	// TypeTechIssue transfers GOOD stock to a technician in one record.
	TypeTechIssue Type = "TECH_ISSUE"
	// TypeTechReturnDefective returns a technician's defective part.
	TypeTechReturnDefective Type = "TECH_RETURN_DEFECTIVE"
	// TypeASCReturnDefective returns defective stock from a service center.
	TypeASCReturnDefective Type = "ASC_RETURN_DEFECTIVE"
	// TypeASCReturnExcess returns excess GOOD stock from a service center.
	TypeASCReturnExcess Type = "ASC_RETURN_EXCESS"
	// TypeAdjustmentIn raises GOOD stock, used for opening balances and
	// compensating corrections.
	TypeAdjustmentIn Type = "ADJUSTMENT_IN"
	// TypeAdjustmentOut lowers GOOD stock.
	TypeAdjustmentOut Type = "ADJUSTMENT_OUT"
)

// Side selects which end of the movement an effect applies to.
type Side string

const (
	SideSource      Side = "SOURCE"
	SideDestination Side = "DESTINATION"
)

// Effect is one bucket change resolved from a movement type.
type Effect struct {
	Bucket    bucket.Bucket
	Operation bucket.Operation
	Side      Side
}

// effectTable is the single authority mapping movement types to bucket
// effects. Quantities never change outside these rows.
var effectTable = map[Type][]Effect{
	TypeFillUpDispatch:      {{bucket.InTransit, bucket.Increase, SideDestination}},
	TypeFillUpReceipt:       {{bucket.InTransit, bucket.Decrease, SideDestination}, {bucket.Good, bucket.Increase, SideDestination}},
	TypePickupDispatch:      {{bucket.InTransit, bucket.Increase, SideDestination}},
	TypePickupReceipt:       {{bucket.InTransit, bucket.Decrease, SideDestination}, {bucket.Good, bucket.Increase, SideDestination}},
	TypeTechIssue:           {{bucket.Good, bucket.Decrease, SideSource}, {bucket.Good, bucket.Increase, SideDestination}},
	TypeTechReturnDefective: {{bucket.Good, bucket.Decrease, SideSource}, {bucket.Defective, bucket.Increase, SideDestination}},
	TypeASCReturnDefective:  {{bucket.Good, bucket.Decrease, SideSource}, {bucket.Defective, bucket.Increase, SideDestination}},
	TypeASCReturnExcess:     {{bucket.Good, bucket.Decrease, SideSource}, {bucket.Good, bucket.Increase, SideDestination}},
	TypeAdjustmentIn:        {{bucket.Good, bucket.Increase, SideDestination}},
	TypeAdjustmentOut:       {{bucket.Good, bucket.Decrease, SideSource}},
}

// EffectsFor resolves the effect tuples for a movement type.
func EffectsFor(t Type) ([]Effect, bool) {
	effects, ok := effectTable[t]
	return effects, ok
}

// Touches reports whether the type has an effect on the given side.
func Touches(t Type, side Side) bool {
	for _, e := range effectTable[t] {
		if e.Side == side {
			return true
		}
	}
	return false
}

// Status of a movement record. Records are persisted completed; a reversal
// writes a new compensating record and flips the original to reversed.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusReversed  Status = "REVERSED"
)

// Movement is one immutable ledger row. Rows are never edited; corrections
// are new compensating records.
type Movement struct {
	ID            uuid.UUID     `json:"id"`
	Type          Type          `json:"type"`
	ItemID        int64         `json:"item_id"`
	Qty           int64         `json:"qty"`
	Source        locations.Ref `json:"source"`
	Destination   locations.Ref `json:"destination"`
	ReferenceType string        `json:"reference_type"`
	ReferenceNo   string        `json:"reference_no"`
	Status        Status        `json:"status"`
	ReversalOf    *uuid.UUID    `json:"reversal_of,omitempty"`
	CreatedBy     int64         `json:"created_by"`
	CreatedAt     time.Time     `json:"created_at"`
}

// RecordInput describes a movement to append.
type RecordInput struct {
	Type          Type
	ItemID        int64
	Qty           int64
	Source        locations.Ref
	Destination   locations.Ref
	ReferenceType string
	ReferenceNo   string
	ActorID       int64
}

// Filter narrows movement listings.
type Filter struct {
	ItemID      int64
	Location    locations.Ref
	Type        Type
	ReferenceNo string
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrUnknownType indicates a movement type absent from the effect table.
var ErrUnknownType = errors.New("ledger: unknown movement type")

// ErrAlreadyReversed indicates a second reversal attempt.
var ErrAlreadyReversed = errors.New("ledger: movement already reversed")

// ErrNotFound indicates a missing movement record.
var ErrNotFound = errors.New("ledger: movement not found")
