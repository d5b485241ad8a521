package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/striderapp/housepoints/models"
)

// StepsPerPoint is the fixed conversion rate from steps to house points.
const StepsPerPoint = 5000

// awardCooldown enforces at most one award per rolling 24 hour period per
// account, independent of wall-clock day boundaries, so repeated app
// foregrounding cannot re-trigger a conversion.
const awardCooldown = 24 * time.Hour

// AwardStatus is the terminal state of one CheckAndAward attempt.
type AwardStatus string

const (
	// StatusNotDue means an eligibility or timing gate was not met. This is
	// an expected, frequent outcome, not a failure.
	StatusNotDue AwardStatus = "not_due"
	// StatusAwarded means the attempt completed and the watermark advanced
	// (possibly with zero points when the step total was below the rate).
	StatusAwarded AwardStatus = "awarded"
)

var (
	// ErrBlockedVersion means the client runs a server-blocked app version.
	// A blocked client must not silently succeed.
	ErrBlockedVersion = errors.New("awarder: app version is blocked")
	// ErrAwardInFlight means another award attempt for the same account is
	// still running. The watermark store has no compare-and-swap, so
	// concurrent attempts are rejected instead of racing.
	ErrAwardInFlight = errors.New("awarder: award already in progress for this account")
)

// AwardResult describes the outcome of one award attempt.
type AwardResult struct {
	Status           AwardStatus `json:"status"`
	Points           int         `json:"points"`
	Steps            int64       `json:"steps"`
	WindowStart      time.Time   `json:"window_start,omitempty"`
	WindowEnd        time.Time   `json:"window_end,omitempty"`
	TrustedSourceIDs []string    `json:"trusted_source_ids,omitempty"`
	NextEligibleAt   time.Time   `json:"next_eligible_at,omitempty"`
}

// StepFetcher is the step measurement collaborator.
type StepFetcher interface {
	FetchSteps(ctx context.Context, userID uint, windowStart, windowEnd time.Time) (StepObservation, error)
}

// VersionGate answers whether a client version is blocked, reading the
// server-published list fresh on every call.
type VersionGate interface {
	IsVersionBlocked(ctx context.Context, version string) (bool, error)
}

// AuditSink records one immutable entry per completed award.
type AuditSink interface {
	Record(ctx context.Context, entry *models.AwardLog) error
}

// Awarder decides once per eligible day whether an account is due for point
// conversion, applies the delta to the ledger exactly once, and advances the
// account's watermark. All collaborators are injected; the awarder holds no
// ambient state beyond the in-flight guard.
type Awarder struct {
	steps    StepFetcher
	ledger   Ledger
	marks    WatermarkStore
	versions VersionGate
	audit    AuditSink
	log      *zap.SugaredLogger
	clock    func() time.Time

	mu       sync.Mutex
	inflight map[uint]struct{}
}

// NewAwarder wires an Awarder from its collaborators.
func NewAwarder(steps StepFetcher, ledger Ledger, marks WatermarkStore, versions VersionGate, audit AuditSink, log *zap.SugaredLogger) *Awarder {
	return &Awarder{
		steps:    steps,
		ledger:   ledger,
		marks:    marks,
		versions: versions,
		audit:    audit,
		log:      log,
		clock:    time.Now,
		inflight: map[uint]struct{}{},
	}
}

// WithClock overrides the time source. Intended for tests.
func (a *Awarder) WithClock(clock func() time.Time) *Awarder {
	a.clock = clock
	return a
}

// CheckAndAward runs the full decision pipeline for one account:
// eligibility gate, due-date gate, filtered step measurement, point
// conversion, version gate, atomic ledger increment, watermark advance and
// audit write. Any failure before the increment leaves all state untouched;
// an audit write failure after the increment is logged but never rolls the
// award back.
func (a *Awarder) CheckAndAward(ctx context.Context, user *models.User, appVersion string) (AwardResult, error) {
	if !a.begin(user.ID) {
		return AwardResult{}, ErrAwardInFlight
	}
	defer a.end(user.ID)

	now := a.clock()

	if !user.Role.CanAddPoints() {
		return AwardResult{Status: StatusNotDue}, nil
	}

	mark, ok, err := a.marks.Get(ctx, user.ID)
	if err != nil {
		return AwardResult{}, err
	}
	windowStart := mark
	if !ok {
		// First-ever award measures from account creation.
		windowStart = user.CreatedAt
	}
	if windowStart.IsZero() {
		return AwardResult{}, ErrMissingWindowStart
	}

	// Due rule: windowStart + 24h <= now, inclusive boundary against now.
	nextEligible := windowStart.Add(awardCooldown)
	if nextEligible.After(now) {
		return AwardResult{Status: StatusNotDue, NextEligibleAt: nextEligible}, nil
	}

	// The measurement is day-granular; truncate once here so the audit entry
	// and the result report the window the query actually covered.
	measureStart := StartOfDay(windowStart)
	windowEnd := StartOfDay(now)
	obs, err := a.steps.FetchSteps(ctx, user.ID, measureStart, windowEnd)
	if err != nil {
		return AwardResult{}, err
	}

	steps := obs.TotalSteps
	if steps < 0 {
		// Clock skew can shrink the window to nothing; never award negative.
		steps = 0
	}
	points := int(steps / StepsPerPoint)

	blocked, err := a.versions.IsVersionBlocked(ctx, appVersion)
	if err != nil {
		return AwardResult{}, err
	}
	if blocked {
		return AwardResult{}, ErrBlockedVersion
	}

	if points > 0 {
		if err := a.ledger.Increment(ctx, user.House, points); err != nil {
			return AwardResult{}, err
		}
	}

	// The watermark advances even for zero-point awards; otherwise the next
	// attempt would re-measure an ever-growing window starting at the old
	// mark and the account could never catch up.
	newMark := StartOfDay(now)
	if err := a.marks.Set(ctx, user.ID, newMark); err != nil {
		// The increment already landed; a lost watermark risks a double
		// award on retry, so surface this loudly instead of swallowing it.
		a.log.Errorw("watermark persist failed after award",
			"user_id", user.ID, "points", points, "error", err)
		return AwardResult{}, err
	}

	entry := &models.AwardLog{
		EntryID:        uuid.NewString(),
		LoggedAt:       now,
		WindowStart:    measureStart,
		UserID:         user.ID,
		Email:          user.Email,
		House:          user.House,
		PointsAdded:    points,
		AppVersion:     appVersion,
		TrustedSources: strings.Join(obs.TrustedSourceIDs, ","),
	}
	if err := a.audit.Record(ctx, entry); err != nil {
		// Non-fatal: the increment is the source of truth, the log is a
		// secondary record.
		a.log.Warnw("award audit write failed",
			"user_id", user.ID, "points", points, "error", err)
	}

	return AwardResult{
		Status:           StatusAwarded,
		Points:           points,
		Steps:            steps,
		WindowStart:      measureStart,
		WindowEnd:        windowEnd,
		TrustedSourceIDs: obs.TrustedSourceIDs,
	}, nil
}

// NextEligibleAt reports when the account may next convert points, for the
// status endpoint. Returns the zero time when the account has no watermark
// and no creation date.
func (a *Awarder) NextEligibleAt(ctx context.Context, user *models.User) (time.Time, error) {
	mark, ok, err := a.marks.Get(ctx, user.ID)
	if err != nil {
		return time.Time{}, err
	}
	base := mark
	if !ok {
		base = user.CreatedAt
	}
	if base.IsZero() {
		return time.Time{}, nil
	}
	return base.Add(awardCooldown), nil
}

func (a *Awarder) begin(userID uint) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, busy := a.inflight[userID]; busy {
		return false
	}
	a.inflight[userID] = struct{}{}
	return true
}

func (a *Awarder) end(userID uint) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inflight, userID)
}

// GormAuditSink writes award log entries to the database.
type GormAuditSink struct {
	db *gorm.DB
}

// NewGormAuditSink creates an AuditSink over the award_logs table.
func NewGormAuditSink(db *gorm.DB) *GormAuditSink {
	return &GormAuditSink{db: db}
}

// Record appends one audit entry.
func (s *GormAuditSink) Record(ctx context.Context, entry *models.AwardLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("audit write: %w", err)
	}
	return nil
}

// Recent lists audit entries newest first, paginated.
func (s *GormAuditSink) Recent(ctx context.Context, page, pageSize int) ([]models.AwardLog, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	var total int64
	if err := s.db.WithContext(ctx).Model(&models.AwardLog{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit count: %w", err)
	}
	var entries []models.AwardLog
	if err := s.db.WithContext(ctx).
		Order("logged_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&entries).Error; err != nil {
		return nil, 0, fmt.Errorf("audit list: %w", err)
	}
	return entries, total, nil
}
