package msl

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/sparetrack/sparetrack/internal/masterdata/locations"
	"github.com/sparetrack/sparetrack/internal/request"
)

const scanLockKey = "msl:scan:lock"

// RepositoryPort abstracts rule/stock reads for the scanner.
type RepositoryPort interface {
	ListShortfalls(ctx context.Context) ([]Shortfall, error)
}

// RequestPort raises fill-up requests for detected shortfalls.
type RequestPort interface {
	Create(ctx context.Context, input request.CreateInput) (request.SpareRequest, []request.Item, error)
	HasOpenRequest(ctx context.Context, itemID int64, destination locations.Ref) (bool, error)
}

// SourcePort resolves the branch that replenishes a service center.
type SourcePort interface {
	DefaultSource(ctx context.Context, serviceCenter locations.Ref) (locations.Ref, error)
}

// Summary reports one scan cycle.
type Summary struct {
	Shortfalls int `json:"shortfalls"`
	Requests   int `json:"requests"`
	Items      int `json:"items"`
	Skipped    int `json:"skipped"`
}

// MetricsPort counts requests the scanner raises.
type MetricsPort interface {
	FillUpRaised()
}

// Scanner raises one fill-up request per shortfall service center. Cycles are
// serialised across instances through a redis lock; a failed pair is logged
// and skipped so one bad rule never stalls the rest of the scan.
type Scanner struct {
	repo     RepositoryPort
	requests RequestPort
	sources  SourcePort
	redis    *redis.Client
	logger   *slog.Logger
	lockTTL  time.Duration
	actorID  int64
	metrics  MetricsPort
}

// NewScanner constructs Scanner. actorID attributes the raised requests to
// the system account.
func NewScanner(repo RepositoryPort, requests RequestPort, sources SourcePort, rdb *redis.Client, logger *slog.Logger, lockTTL time.Duration, actorID int64) *Scanner {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &Scanner{repo: repo, requests: requests, sources: sources, redis: rdb, logger: logger, lockTTL: lockTTL, actorID: actorID}
}

// WithMetrics attaches a metrics sink and returns the scanner.
func (s *Scanner) WithMetrics(m MetricsPort) *Scanner {
	s.metrics = m
	return s
}

// Run executes one scan cycle. Returns ErrScanLocked when another cycle holds
// the lock.
func (s *Scanner) Run(ctx context.Context) (Summary, error) {
	release, err := s.acquireLock(ctx)
	if err != nil {
		return Summary{}, err
	}
	defer release()

	shortfalls, err := s.repo.ListShortfalls(ctx)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{Shortfalls: len(shortfalls)}
	if len(shortfalls) == 0 {
		return summary, nil
	}

	// Service centers are independent; fan out, one request per center.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, group := range groupByServiceCenter(shortfalls) {
		group := group
		g.Go(func() error {
			created, items, skipped := s.raiseFillUp(gctx, group)
			mu.Lock()
			summary.Requests += created
			summary.Items += items
			summary.Skipped += skipped
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	s.logger.Info("msl scan completed",
		slog.Int("shortfalls", summary.Shortfalls),
		slog.Int("requests", summary.Requests),
		slog.Int("items", summary.Items),
		slog.Int("skipped", summary.Skipped),
	)
	return summary, nil
}

func (s *Scanner) raiseFillUp(ctx context.Context, group []Shortfall) (requests, items, skipped int) {
	sc := group[0].ServiceCenter
	logger := s.logger.With(slog.String("service_center", sc.String()))

	source, err := s.sources.DefaultSource(ctx, sc)
	if err != nil {
		logger.Warn("no replenishment source, skipping", slog.Any("error", err))
		return 0, 0, len(group)
	}

	var lines []request.ItemInput
	for _, shortfall := range group {
		// The scan query and the create are separate transactions; recheck
		// so a request raised in between is not duplicated.
		open, err := s.requests.HasOpenRequest(ctx, shortfall.Rule.ItemID, sc)
		if err != nil {
			logger.Warn("open-request check failed, skipping item",
				slog.Int64("item_id", shortfall.Rule.ItemID), slog.Any("error", err))
			skipped++
			continue
		}
		if open {
			skipped++
			continue
		}
		deficit := shortfall.Deficit()
		if deficit <= 0 {
			skipped++
			continue
		}
		lines = append(lines, request.ItemInput{ItemID: shortfall.Rule.ItemID, Qty: deficit})
	}
	if len(lines) == 0 {
		return 0, 0, skipped
	}

	req, _, err := s.requests.Create(ctx, request.CreateInput{
		Source:      source,
		Destination: sc,
		Reason:      request.ReasonMSL,
		Note:        "automatic minimum stock replenishment",
		ActorID:     s.actorID,
		Items:       lines,
	})
	if err != nil {
		logger.Warn("fill-up request failed, skipping", slog.Any("error", err))
		return 0, 0, skipped + len(lines)
	}
	if s.metrics != nil {
		s.metrics.FillUpRaised()
	}
	logger.Info("fill-up request raised",
		slog.String("request_id", req.ID.String()),
		slog.Int("items", len(lines)),
	)
	return 1, len(lines), skipped
}

func (s *Scanner) acquireLock(ctx context.Context) (func(), error) {
	if s.redis == nil {
		return func() {}, nil
	}
	token := uuid.NewString()
	ok, err := s.redis.SetNX(ctx, scanLockKey, token, s.lockTTL).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrScanLocked
	}
	return func() {
		current, err := s.redis.Get(context.Background(), scanLockKey).Result()
		if err == nil && current == token {
			s.redis.Del(context.Background(), scanLockKey)
		}
	}, nil
}

// groupByServiceCenter preserves the repository's ordering within groups.
func groupByServiceCenter(shortfalls []Shortfall) [][]Shortfall {
	var groups [][]Shortfall
	index := map[int64]int{}
	for _, s := range shortfalls {
		id := s.ServiceCenter.ID
		i, ok := index[id]
		if !ok {
			i = len(groups)
			index[id] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], s)
	}
	return groups
}
