package msl

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
)

// Repository reads replenishment rules and their stock position. Rules are
// keyed by (item, tier); the service-center join resolves which concrete
// centers a rule governs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const ruleColumns = `r.id, r.item_id, r.tier, r.min_level, r.max_level, r.effective_from, r.effective_to, r.active`

// HasActiveRule reports whether a rule in effect now covers the item at the
// service center's tier.
func (r *Repository) HasActiveRule(ctx context.Context, itemID int64, loc locations.Ref) (bool, error) {
	if loc.Kind != locations.KindServiceCenter {
		return false, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+`
FROM msl_rules r
JOIN service_centers sc ON sc.tier = r.tier
WHERE r.item_id=$1 AND sc.id=$2 AND r.active`, itemID, loc.ID)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	now := time.Now().UTC()
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return false, err
		}
		if rule.EffectiveAt(now) {
			return true, nil
		}
	}
	return false, rows.Err()
}

// ListShortfalls returns every (rule, service center) pair where the center's
// GOOD stock sits below the rule's minimum, the rule is in effect now, and no
// open fill-up already covers the pair. A missing bucket row counts as zero
// stock.
func (r *Repository) ListShortfalls(ctx context.Context) ([]Shortfall, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+`, sc.id, COALESCE(b.good, 0)
FROM msl_rules r
JOIN service_centers sc ON sc.tier = r.tier AND sc.is_active
LEFT JOIN bucket_states b
  ON b.item_id = r.item_id AND b.location_kind = 'SERVICE_CENTER' AND b.location_id = sc.id
WHERE r.active
  AND r.effective_from <= NOW()
  AND (r.effective_to IS NULL OR r.effective_to > NOW())
  AND COALESCE(b.good, 0) <= r.min_level
  AND NOT EXISTS (
    SELECT 1 FROM spare_requests q
    JOIN spare_request_items i ON i.request_id = q.id
    WHERE i.item_id = r.item_id
      AND q.dest_kind = 'SERVICE_CENTER' AND q.dest_id = sc.id
      AND q.status IN ('PENDING','APPROVED','DISPATCHED')
  )
ORDER BY sc.id, r.item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shortfalls []Shortfall
	for rows.Next() {
		var s Shortfall
		var scID int64
		var effectiveTo *time.Time
		if err := rows.Scan(&s.Rule.ID, &s.Rule.ItemID, &s.Rule.Tier, &s.Rule.MinLevel, &s.Rule.MaxLevel,
			&s.Rule.EffectiveFrom, &effectiveTo, &s.Rule.Active, &scID, &s.Good); err != nil {
			return nil, err
		}
		s.Rule.EffectiveTo = effectiveTo
		s.ServiceCenter = locations.Ref{Kind: locations.KindServiceCenter, ID: scID}
		shortfalls = append(shortfalls, s)
	}
	return shortfalls, rows.Err()
}

// ListRules returns the rules governing one tier, active first.
func (r *Repository) ListRules(ctx context.Context, tier locations.Tier) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+ruleColumns+`
FROM msl_rules r
WHERE r.tier=$1 ORDER BY r.active DESC, r.item_id`, tier)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (Rule, error) {
	var rule Rule
	var effectiveTo *time.Time
	if err := row.Scan(&rule.ID, &rule.ItemID, &rule.Tier, &rule.MinLevel, &rule.MaxLevel,
		&rule.EffectiveFrom, &effectiveTo, &rule.Active); err != nil {
		return Rule{}, err
	}
	rule.EffectiveTo = effectiveTo
	return rule, nil
}
