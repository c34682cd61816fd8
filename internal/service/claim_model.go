package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/moumen26/insurance-client-side/internal/domain"
	"github.com/moumen26/insurance-client-side/internal/session"
)

// ClaimSource read side of the claims API.
type ClaimSource interface {
	ActiveClaims(ctx context.Context, userID domain.ID) ([]domain.Claim, error)
	ArchivedClaims(ctx context.Context, userID domain.ID) ([]domain.Claim, error)
	Statistics(ctx context.Context, userID domain.ID) (domain.Statistics, error)
}

// View one cached query of the ClaimModel.
type View int

const (
	ViewActive View = iota
	ViewArchived
	ViewStatistics
)

var allViews = []View{ViewActive, ViewArchived, ViewStatistics}

func (v View) String() string {
	switch v {
	case ViewActive:
		return "active"
	case ViewArchived:
		return "archived"
	case ViewStatistics:
		return "statistics"
	}
	return "unknown"
}

// ParseView is the inverse of View.String.
func ParseView(s string) (View, error) {
	for _, v := range allViews {
		if strings.EqualFold(strings.TrimSpace(s), v.String()) {
			return v, nil
		}
	}
	return 0, fmt.Errorf("unknown view %q", s)
}

// Invalidator is implemented by ClaimModel.
type Invalidator interface {
	Invalidate(views ...View)
}

// RefreshPolicy polling intervals and focus throttle.
type RefreshPolicy struct {
	Active         time.Duration
	Archived       time.Duration
	Statistics     time.Duration
	FocusPerSecond float64
	FocusBurst     int
}

func (p RefreshPolicy) limiter() *rate.Limiter {
	if p.FocusPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(p.FocusPerSecond), p.FocusBurst)
}

// ClaimModel read-through cache of the user's claims and statistics with
// time-based invalidation. The key of every query is the user id.
type ClaimModel struct {
	active     *Refresher[[]domain.Claim]
	archived   *Refresher[[]domain.Claim]
	statistics *Refresher[domain.Statistics]
	logger     *zap.Logger
}

func NewClaimModel(src ClaimSource, policy RefreshPolicy, logger *zap.Logger) *ClaimModel {
	return &ClaimModel{
		active: NewRefresher[[]domain.Claim]("active_claims", policy.Active,
			func(ctx context.Context, key string) ([]domain.Claim, error) {
				return src.ActiveClaims(ctx, domain.ID(key))
			}, policy.limiter(), logger),
		archived: NewRefresher[[]domain.Claim]("archived_claims", policy.Archived,
			func(ctx context.Context, key string) ([]domain.Claim, error) {
				return src.ArchivedClaims(ctx, domain.ID(key))
			}, policy.limiter(), logger),
		statistics: NewRefresher[domain.Statistics]("statistics", policy.Statistics,
			func(ctx context.Context, key string) (domain.Statistics, error) {
				return src.Statistics(ctx, domain.ID(key))
			}, policy.limiter(), logger),
		logger: logger,
	}
}

// SetUser rekeys every query. An empty id disables fetching.
func (m *ClaimModel) SetUser(userID domain.ID) {
	m.active.SetKey(userID.String())
	m.archived.SetKey(userID.String())
	m.statistics.SetKey(userID.String())
}

// FollowSession keeps the model keyed by the session's user.
func (m *ClaimModel) FollowSession(store *session.Store) (unsubscribe func()) {
	m.SetUser(store.UserID())
	return store.Subscribe(func(cur *session.Session) {
		m.SetUser(cur.UserID())
	})
}

func (m *ClaimModel) ListActive(ctx context.Context, userID domain.ID) ([]domain.Claim, error) {
	m.active.SetKey(userID.String())
	return m.active.Get(ctx)
}

func (m *ClaimModel) ListArchived(ctx context.Context, userID domain.ID) ([]domain.Claim, error) {
	m.archived.SetKey(userID.String())
	return m.archived.Get(ctx)
}

func (m *ClaimModel) FetchStatistics(ctx context.Context, userID domain.ID) (domain.Statistics, error) {
	m.statistics.SetKey(userID.String())
	return m.statistics.Get(ctx)
}

// FindArchived looks claimID up in the archived list.
func (m *ClaimModel) FindArchived(ctx context.Context, userID, claimID domain.ID) (domain.Claim, bool, error) {
	claims, err := m.ListArchived(ctx, userID)
	if err != nil {
		return domain.Claim{}, false, err
	}
	for _, c := range claims {
		if c.ID == claimID {
			return c, true, nil
		}
	}
	return domain.Claim{}, false, nil
}

// Start polls all three queries until Stop.
func (m *ClaimModel) Start(ctx context.Context) {
	m.active.Start(ctx)
	m.archived.Start(ctx)
	m.statistics.Start(ctx)
	m.logger.Debug("Claim model polling started")
}

// Stop ends polling and drops reads in flight.
func (m *ClaimModel) Stop() {
	m.active.Stop()
	m.archived.Stop()
	m.statistics.Stop()
	m.logger.Debug("Claim model polling stopped")
}

// Focus the consuming view regained focus. Refreshes are throttled.
func (m *ClaimModel) Focus() {
	m.active.Trigger()
	m.archived.Trigger()
	m.statistics.Trigger()
}

// Invalidate marks views stale; none means all of them.
func (m *ClaimModel) Invalidate(views ...View) {
	if len(views) == 0 {
		views = allViews
	}
	for _, v := range views {
		switch v {
		case ViewActive:
			m.active.Invalidate()
		case ViewArchived:
			m.archived.Invalidate()
		case ViewStatistics:
			m.statistics.Invalidate()
		}
	}
	m.logger.Debug("Claim views invalidated", zap.Int("views", len(views)))
}

func (m *ClaimModel) OnActive(fn func(Snapshot[[]domain.Claim])) func() {
	return m.active.Subscribe(fn)
}

func (m *ClaimModel) OnArchived(fn func(Snapshot[[]domain.Claim])) func() {
	return m.archived.Subscribe(fn)
}

func (m *ClaimModel) OnStatistics(fn func(Snapshot[domain.Statistics])) func() {
	return m.statistics.Subscribe(fn)
}
