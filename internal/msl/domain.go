// Package msl maintains minimum stock levels at service centers. Thresholds
// are set per (item, tier), so every service center of a tier shares the same
// levels. A periodic scan compares GOOD stock against the levels in effect
// and raises fill-up requests for the shortfall.
package msl

import (
	"errors"
	"time"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Rule is one replenishment rule: keep the item's GOOD stock at every
// service center of the tier between MinLevel and MaxLevel for as long as
// the rule is in effect. A nil EffectiveTo leaves the rule open-ended.
type Rule struct {
	ID            int64          `json:"id"`
	ItemID        int64          `json:"item_id"`
	Tier          locations.Tier `json:"tier"`
	MinLevel      int64          `json:"min_level"`
	MaxLevel      int64          `json:"max_level"`
	EffectiveFrom time.Time      `json:"effective_from"`
	EffectiveTo   *time.Time     `json:"effective_to,omitempty"`
	Active        bool           `json:"active"`
}

// EffectiveAt reports whether the rule applies at t. The window is inclusive
// of EffectiveFrom and exclusive of EffectiveTo.
func (r Rule) EffectiveAt(t time.Time) bool {
	if !r.Active {
		return false
	}
	if t.Before(r.EffectiveFrom) {
		return false
	}
	if r.EffectiveTo != nil && !t.Before(*r.EffectiveTo) {
		return false
	}
	return true
}

// Shortfall pins a tier rule to one concrete service center whose GOOD stock
// sits below the rule's minimum.
type Shortfall struct {
	Rule          Rule          `json:"rule"`
	ServiceCenter locations.Ref `json:"service_center"`
	Good          int64         `json:"good"`
}

// Deficit is the quantity a fill-up must request to reach MaxLevel.
func (s Shortfall) Deficit() int64 {
	return s.Rule.MaxLevel - s.Good
}

// ErrScanLocked indicates another scan cycle holds the lock.
var ErrScanLocked = errors.New("msl: scan already running")
