package invoice

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Line is an invoice line consumed for return/credit pricing. Lines originate
// in an external billing system; only qty_remaining is mutated here, and only
// through Reserve.
type Line struct {
	ID           int64           `json:"id"`
	InvoiceNo    string          `json:"invoice_no"`
	ItemID       int64           `json:"item_id"`
	Location     locations.Ref   `json:"location"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	HSN          string          `json:"hsn"`
	QtyRemaining int64           `json:"qty_remaining"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Allocation is one priced sub-line produced by consuming an invoice line,
// or the nominal-price fallback when no line could cover the quantity.
type Allocation struct {
	InvoiceLineID int64           `json:"invoice_line_id,omitempty"`
	InvoiceNo     string          `json:"invoice_no,omitempty"`
	Qty           int64           `json:"qty"`
	UnitPrice     decimal.Decimal `json:"unit_price"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	HSN           string          `json:"hsn"`
	Nominal       bool            `json:"nominal"`
}

// ErrLineContention indicates a decrement lost against concurrent consumption.
var ErrLineContention = errors.New("invoice: line reserved concurrently")

// ErrInvalidQuantity indicates a non-positive allocation quantity.
var ErrInvalidQuantity = errors.New("invoice: quantity must be positive")
