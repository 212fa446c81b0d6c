package request

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Status is the spare-request lifecycle state.
type Status string

const (
	StatusDraft      Status = "DRAFT"
	StatusPending    Status = "PENDING"
	StatusApproved   Status = "APPROVED"
	StatusDispatched Status = "DISPATCHED"
	StatusReceived   Status = "RECEIVED"
	StatusRejected   Status = "REJECTED"
	StatusCancelled  Status = "CANCELLED"
	StatusReopened   Status = "REOPENED"
)

// transitions is the closed set of legal status edges.
var transitions = map[Status][]Status{
	StatusDraft:      {StatusPending, StatusCancelled},
	StatusPending:    {StatusApproved, StatusRejected, StatusCancelled},
	StatusApproved:   {StatusDispatched, StatusReceived},
	StatusDispatched: {StatusReceived},
	StatusReceived:   {StatusReopened},
}

// CanTransition reports whether from→to is a legal edge.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Reason motivates a spare request.
type Reason string

const (
	ReasonMSL         Reason = "MSL"
	ReasonBulk        Reason = "BULK"
	ReasonDefect      Reason = "DEFECT"
	ReasonExcess      Reason = "EXCESS"
	ReasonPickup      Reason = "PICKUP"
	ReasonReplacement Reason = "REPLACEMENT"
)

// Valid reports whether the reason is known.
func (r Reason) Valid() bool {
	switch r {
	case ReasonMSL, ReasonBulk, ReasonDefect, ReasonExcess, ReasonPickup, ReasonReplacement:
		return true
	}
	return false
}

// IsReturn reports whether the reason describes stock flowing back up the
// network.
func (r Reason) IsReturn() bool {
	return r == ReasonDefect || r == ReasonExcess
}

// RequestType is derived from source/destination kinds plus reason; callers
// never choose it.
type RequestType string

const (
	TypeCFU                 RequestType = "CFU"
	TypeTechIssue           RequestType = "TECH_ISSUE"
	TypeTechReturnDefective RequestType = "TECH_RETURN_DEFECTIVE"
	TypeASCReturnDefective  RequestType = "ASC_RETURN_DEFECTIVE"
	TypeASCReturnExcess     RequestType = "ASC_RETURN_EXCESS"
	TypeBranchPickup        RequestType = "BRANCH_PICKUP"
)

// IsReturn reports whether the type prices items through the FIFO matcher.
func (t RequestType) IsReturn() bool {
	switch t {
	case TypeTechReturnDefective, TypeASCReturnDefective, TypeASCReturnExcess:
		return true
	}
	return false
}

// HasTransitLeg reports whether the type dispatches stock in transit and
// needs a later receipt confirmation.
func (t RequestType) HasTransitLeg() bool {
	return t == TypeCFU || t == TypeBranchPickup
}

// ItemStatus tracks per-item approval outcome.
type ItemStatus string

const (
	ItemPending  ItemStatus = "PENDING"
	ItemApproved ItemStatus = "APPROVED"
	ItemRejected ItemStatus = "REJECTED"
)

// SpareRequest is the workflow aggregate.
type SpareRequest struct {
	ID          uuid.UUID     `json:"id"`
	Type        RequestType   `json:"type"`
	Reason      Reason        `json:"reason"`
	Source      locations.Ref `json:"source"`
	Destination locations.Ref `json:"destination"`
	Status      Status        `json:"status"`
	Note        string        `json:"note"`
	CreatedBy   int64         `json:"created_by"`
	CreatedAt   time.Time     `json:"created_at"`
	ApprovedBy  *int64        `json:"approved_by,omitempty"`
	ApprovedAt  *time.Time    `json:"approved_at,omitempty"`
}

// Flow resolves the physical stock direction for the request's movements.
// CFU requests may be entered from either side of the service-center/branch
// pair; stock always flows into the service center.
func (r SpareRequest) Flow() (from, to locations.Ref) {
	if r.Type == TypeCFU && r.Source.Kind == locations.KindServiceCenter {
		return r.Destination, r.Source
	}
	return r.Source, r.Destination
}

// Item is one requested line. Pricing fields are filled by the FIFO matcher
// for return types; approved_qty stays nil until approval.
type Item struct {
	ID           int64           `json:"id"`
	RequestID    uuid.UUID       `json:"request_id"`
	ItemID       int64           `json:"item_id"`
	RequestedQty int64           `json:"requested_qty"`
	ApprovedQty  *int64          `json:"approved_qty,omitempty"`
	Defective    bool            `json:"defective"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	HSN          string          `json:"hsn,omitempty"`
	Status       ItemStatus      `json:"status"`
	FailReason   string          `json:"fail_reason,omitempty"`
}

// ListFilter narrows request listings.
type ListFilter struct {
	Status      Status
	Type        RequestType
	Destination locations.Ref
	Page        int
	PerPage     int
}

var (
	// ErrInvalidState occurs when an action violates the status workflow.
	ErrInvalidState = errors.New("request: invalid state transition")
	// ErrNotFound indicates a missing request.
	ErrNotFound = errors.New("request: not found")
	// ErrValidation indicates invalid input.
	ErrValidation = errors.New("request: invalid input")
	// ErrUnclassifiable indicates no request type matches the given
	// source/destination/reason combination.
	ErrUnclassifiable = errors.New("request: no type for source/destination/reason")
	// ErrNothingApproved indicates every item failed approval.
	ErrNothingApproved = errors.New("request: no item could be approved")
)
