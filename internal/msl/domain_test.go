package msl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

func TestRuleEffectiveAt(t *testing.T) {
	from := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		rule Rule
		at   time.Time
		want bool
	}{
		{
			name: "inside open-ended window",
			rule: Rule{EffectiveFrom: from, Active: true},
			at:   from.AddDate(1, 0, 0),
			want: true,
		},
		{
			name: "before effective_from",
			rule: Rule{EffectiveFrom: from, Active: true},
			at:   from.Add(-time.Second),
			want: false,
		},
		{
			name: "start of window is inclusive",
			rule: Rule{EffectiveFrom: from, EffectiveTo: &to, Active: true},
			at:   from,
			want: true,
		},
		{
			name: "end of window is exclusive",
			rule: Rule{EffectiveFrom: from, EffectiveTo: &to, Active: true},
			at:   to,
			want: false,
		},
		{
			name: "expired rule",
			rule: Rule{EffectiveFrom: from, EffectiveTo: &to, Active: true},
			at:   to.AddDate(0, 1, 0),
			want: false,
		},
		{
			name: "inactive rule never applies",
			rule: Rule{EffectiveFrom: from, Active: false},
			at:   from.AddDate(0, 1, 0),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rule.EffectiveAt(tt.at))
		})
	}
}

func TestShortfallDeficit(t *testing.T) {
	s := Shortfall{
		Rule:          Rule{ItemID: 7, Tier: locations.TierA, MinLevel: 10, MaxLevel: 20, Active: true},
		ServiceCenter: locations.Ref{Kind: locations.KindServiceCenter, ID: 1},
		Good:          2,
	}
	assert.EqualValues(t, 18, s.Deficit())
}
