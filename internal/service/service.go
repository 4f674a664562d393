package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/singleflight"

	"smartpos/internal/cache"
	"smartpos/internal/domain"
	"smartpos/internal/logging"
	"smartpos/internal/metrics"
	"smartpos/internal/receipt"
	"smartpos/internal/store"
	"smartpos/internal/xid"
)

var ErrForbidden = errors.New("insufficient permissions")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo     store.Repository
	stats    cache.StatsCache
	statsTTL time.Duration
	metrics  *metrics.POSMetrics
	header   receipt.Header
	images   ImageStore
	now      func() time.Time
	flight   singleflight.Group
}

type Option func(*Service)

func WithStatsCache(c cache.StatsCache, ttl time.Duration) Option {
	return func(s *Service) {
		if c != nil {
			s.stats = c
		}
		if ttl > 0 {
			s.statsTTL = ttl
		}
	}
}

func WithMetrics(m *metrics.POSMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithReceiptHeader(h receipt.Header) Option {
	return func(s *Service) { s.header = h }
}

// WithClock overrides the time source used for sale pricing and listings.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(repo store.Repository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		stats:    cache.NoopStatsCache{},
		statsTTL: 30 * time.Second,
		header:   receipt.DefaultHeader(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) DashboardStats(ctx context.Context) (domain.DashboardStats, error) {
	logger := logging.FromContext(ctx)
	cached, ok, err := s.stats.Get(ctx, cache.DashboardStatsKey)
	if err != nil {
		logger.Warn().Err(err).Msg("dashboard stats cache read failed")
	}
	if ok && cached != nil {
		return *cached, nil
	}

	v, err, _ := s.flight.Do(cache.DashboardStatsKey, func() (any, error) {
		stats, err := s.repo.DashboardStats(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.stats.Set(ctx, cache.DashboardStatsKey, &stats, s.statsTTL); err != nil {
			logger.Warn().Err(err).Msg("dashboard stats cache write failed")
		}
		return stats, nil
	})
	if err != nil {
		return domain.DashboardStats{}, err
	}
	return v.(domain.DashboardStats), nil
}

func (s *Service) ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error) {
	if err := requireRole(ctx, domain.RoleManager); err != nil {
		return nil, err
	}
	if limit < 1 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, limit)
}

func (s *Service) invalidateStats(ctx context.Context) {
	if err := s.stats.Invalidate(ctx, cache.DashboardStatsKey); err != nil {
		logging.FromContext(ctx).Warn().Err(err).Msg("dashboard stats cache invalidation failed")
	}
}

func requireRole(ctx context.Context, roles ...string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || !slices.Contains(roles, actor.Role) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		logging.FromContext(ctx).Warn().
			Err(err).
			Str("action", action).
			Str("entity", entityType+"/"+entityID).
			Msg("failed to write audit log")
	}
}

// snapshot renders old and new values for an audit detail.
func snapshot(before, after any) string {
	payload, err := json.Marshal(map[string]any{"old": before, "new": after})
	if err != nil {
		return fmt.Sprintf("old=%v new=%v", before, after)
	}
	return string(payload)
}

// ValidationError is a rejected request. Its message is meant for the
// operator as is.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return store.ErrInvalidInput }

func invalid(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
