package locations

import "fmt"

// Kind discriminates the physical or logical location types of the network.
type Kind string

const (
	KindPlant         Kind = "PLANT"
	KindBranch        Kind = "BRANCH"
	KindServiceCenter Kind = "SERVICE_CENTER"
	KindTechnician    Kind = "TECHNICIAN"
	KindCustomer      Kind = "CUSTOMER"
	KindSupplier      Kind = "SUPPLIER"
)

// Valid reports whether the kind is one of the closed set.
func (k Kind) Valid() bool {
	switch k {
	case KindPlant, KindBranch, KindServiceCenter, KindTechnician, KindCustomer, KindSupplier:
		return true
	}
	return false
}

// Ref is a tagged location reference. The same numeric id space is reused
// across kinds, so a bare id is meaningless without its kind.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

// Valid reports whether the reference carries a known kind and a positive id.
func (r Ref) Valid() bool {
	return r.Kind.Valid() && r.ID > 0
}

// String renders the reference as KIND:id.
func (r Ref) String() string {
	return fmt.Sprintf("%s:%d", r.Kind, r.ID)
}

// Tier classifies a service center for minimum-stock-level threshold lookup.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)
