package request

import (
	"fmt"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// DeriveType classifies a request from its endpoints, its reason and the
// presence of defective items. The caller never picks the type. One DEFECT
// item among others forces the whole request to the defect-return type.
func DeriveType(source, destination locations.Kind, reason Reason, anyDefective bool) (RequestType, error) {
	if !source.Valid() || !destination.Valid() {
		return "", fmt.Errorf("%w: unknown location kind", ErrValidation)
	}
	if !reason.Valid() {
		return "", fmt.Errorf("%w: unknown reason %q", ErrValidation, reason)
	}

	if reason == ReasonDefect || anyDefective {
		switch {
		case source == locations.KindTechnician && destination == locations.KindServiceCenter:
			return TypeTechReturnDefective, nil
		case source == locations.KindServiceCenter && destination == locations.KindBranch:
			return TypeASCReturnDefective, nil
		}
		return "", fmt.Errorf("%w: defect return between %s and %s", ErrUnclassifiable, source, destination)
	}

	switch {
	case source == locations.KindServiceCenter && destination == locations.KindBranch:
		switch reason {
		case ReasonMSL, ReasonBulk:
			return TypeCFU, nil
		case ReasonExcess:
			return TypeASCReturnExcess, nil
		}
	case source == locations.KindBranch && destination == locations.KindServiceCenter:
		switch reason {
		case ReasonPickup:
			return TypeBranchPickup, nil
		case ReasonMSL, ReasonBulk:
			// Replenishment entered from the branch side; same consignment
			// fill-up flow into the service center.
			return TypeCFU, nil
		}
	case source == locations.KindServiceCenter && destination == locations.KindTechnician:
		if !reason.IsReturn() {
			return TypeTechIssue, nil
		}
	}

	return "", fmt.Errorf("%w: %s → %s with reason %s", ErrUnclassifiable, source, destination, reason)
}
