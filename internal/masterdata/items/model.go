package items

import (
	"time"

	"github.com/shopspring/decimal"
)

// Criticality flags how urgently an item must be replenished.
type Criticality string

const (
	CriticalityLow    Criticality = "LOW"
	CriticalityMedium Criticality = "MEDIUM"
	CriticalityHigh   Criticality = "HIGH"
)

// Item is a catalog entry. The catalog is owned by an external master-data
// system; this side consumes it read-only.
type Item struct {
	ID           int64           `json:"id"`
	SKU          string          `json:"sku"`
	Name         string          `json:"name"`
	UOM          string          `json:"uom"`
	NominalPrice decimal.Decimal `json:"nominal_price"`
	TaxRate      decimal.Decimal `json:"tax_rate"`
	HSN          string          `json:"hsn"`
	Criticality  Criticality     `json:"criticality"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
}
