package bucket

import (
	"errors"
	"time"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Bucket is one of the quantity classes tracked per item per location.
type Bucket string

const (
	// Good counts sellable, usable stock.
	Good Bucket = "GOOD"
	// Defective counts stock awaiting return or scrap.
	Defective Bucket = "DEFECTIVE"
	// InTransit counts stock dispatched but not yet received.
	InTransit Bucket = "IN_TRANSIT"
)

// Valid reports whether the bucket is one of the closed set.
func (b Bucket) Valid() bool {
	switch b {
	case Good, Defective, InTransit:
		return true
	}
	return false
}

// Operation is the direction of a quantity change.
type Operation string

const (
	Increase Operation = "INCREASE"
	Decrease Operation = "DECREASE"
)

// Inverse returns the opposite operation, used when reversing movements.
func (o Operation) Inverse() Operation {
	if o == Increase {
		return Decrease
	}
	return Increase
}

// Valid reports whether the operation is known.
func (o Operation) Valid() bool {
	return o == Increase || o == Decrease
}

// State holds the counters for one (item, location) pair. Rows are created
// lazily on first mutation and never deleted.
type State struct {
	ItemID    int64         `json:"item_id"`
	Location  locations.Ref `json:"location"`
	Good      int64         `json:"good"`
	Defective int64         `json:"defective"`
	InTransit int64         `json:"in_transit"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Quantity returns the counter for the given bucket.
func (s State) Quantity(b Bucket) int64 {
	switch b {
	case Good:
		return s.Good
	case Defective:
		return s.Defective
	case InTransit:
		return s.InTransit
	}
	return 0
}

// OnHand returns the total quantity across all buckets.
func (s State) OnHand() int64 {
	return s.Good + s.Defective + s.InTransit
}

// ErrInsufficientStock triggered when a decrease would drive a counter negative.
var ErrInsufficientStock = errors.New("bucket: insufficient stock")

// ErrInvalidQuantity indicates a non-positive quantity.
var ErrInvalidQuantity = errors.New("bucket: quantity must be positive")

// ErrInvalidBucket indicates an unknown bucket or operation.
var ErrInvalidBucket = errors.New("bucket: invalid bucket or operation")

// ErrStateNotFound indicates a missing state row.
var ErrStateNotFound = errors.New("bucket: state not found")

// Mutate applies a single bucket effect to the state. It is the only code
// path allowed to change counter values; every counter stays >= 0.
func Mutate(s *State, b Bucket, op Operation, qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !b.Valid() || !op.Valid() {
		return ErrInvalidBucket
	}
	delta := qty
	if op == Decrease {
		delta = -qty
	}
	next := s.Quantity(b) + delta
	if next < 0 {
		return ErrInsufficientStock
	}
	switch b {
	case Good:
		s.Good = next
	case Defective:
		s.Defective = next
	case InTransit:
		s.InTransit = next
	}
	return nil
}
