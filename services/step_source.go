package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/striderapp/housepoints/models"
)

// AppleHealthSourcePrefix identifies samples recorded by the platform health
// store itself. Sources under this namespace are always trusted.
const AppleHealthSourcePrefix = "com.apple.health"

// ErrMissingWindowStart indicates the caller asked for a step window with no
// start time. This is a caller bug, not a runtime condition.
var ErrMissingWindowStart = errors.New("step source: window start is not set")

// StepObservation is the result of one filtered step read. It is produced
// fresh on every award attempt and never cached.
type StepObservation struct {
	TotalSteps       int64    `json:"total_steps"`
	TrustedSourceIDs []string `json:"trusted_source_ids"`
}

// SourceSum is a per-source step total inside a window.
type SourceSum struct {
	SourceID string `gorm:"column:source_id" json:"source_id"`
	Steps    int64  `gorm:"column:steps" json:"steps"`
}

// SampleStore answers per-source step sums for a user over a half-open
// window [start, end), always excluding manually entered samples.
type SampleStore interface {
	SumBySource(ctx context.Context, userID uint, start, end time.Time) ([]SourceSum, error)
}

// AllowlistProvider returns the server-controlled set of third-party source
// identifiers permitted to contribute steps. Implementations must read fresh
// state on every call; a stale allow-list must never silently persist.
type AllowlistProvider interface {
	TrustedSourceIDs(ctx context.Context) (map[string]struct{}, error)
}

// StepSource answers "how many steps between two timestamps, excluding
// untrusted sources". Without the exclusion a user could inflate totals via
// manual entry or disallowed third-party apps.
type StepSource struct {
	samples   SampleStore
	allowlist AllowlistProvider
}

// NewStepSource builds a StepSource over the given collaborators.
func NewStepSource(samples SampleStore, allowlist AllowlistProvider) *StepSource {
	return &StepSource{samples: samples, allowlist: allowlist}
}

// FetchSteps sums steps over [startOfDay(windowStart), windowEnd), keeping
// only platform-native and allow-listed sources. The end is exclusive:
// samples are day-granular, so a day only counts once it has fully elapsed
// and the next window picks it up exactly once. The allow-list is fetched
// fresh on every call; if that fetch fails the whole read fails, since the
// filtering decision cannot be made without it.
func (s *StepSource) FetchSteps(ctx context.Context, userID uint, windowStart, windowEnd time.Time) (StepObservation, error) {
	if windowStart.IsZero() {
		return StepObservation{}, ErrMissingWindowStart
	}

	start := StartOfDay(windowStart)
	sums, err := s.samples.SumBySource(ctx, userID, start, windowEnd)
	if err != nil {
		return StepObservation{}, fmt.Errorf("step query failed: %w", err)
	}

	trusted, err := s.allowlist.TrustedSourceIDs(ctx)
	if err != nil {
		return StepObservation{}, fmt.Errorf("trusted source allow-list fetch failed: %w", err)
	}

	var total int64
	used := []string{}
	for _, sum := range sums {
		if !sourceTrusted(sum.SourceID, trusted) {
			continue
		}
		total += sum.Steps
		if sum.Steps > 0 {
			used = append(used, sum.SourceID)
		}
	}
	sort.Strings(used)

	return StepObservation{TotalSteps: total, TrustedSourceIDs: used}, nil
}

func sourceTrusted(sourceID string, allowlist map[string]struct{}) bool {
	if strings.HasPrefix(sourceID, AppleHealthSourcePrefix) {
		return true
	}
	_, ok := allowlist[sourceID]
	return ok
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// GormSampleStore is the database-backed SampleStore over synced device samples.
type GormSampleStore struct {
	db *gorm.DB
}

// NewGormSampleStore creates a SampleStore on top of the step_samples table.
func NewGormSampleStore(db *gorm.DB) *GormSampleStore {
	return &GormSampleStore{db: db}
}

// SumBySource groups step totals by source id inside [start, end), dropping
// manually entered samples at the query level. The end day is excluded:
// consecutive award windows share their boundary instant, and an inclusive
// end would count that day's samples in both.
func (s *GormSampleStore) SumBySource(ctx context.Context, userID uint, start, end time.Time) ([]SourceSum, error) {
	var sums []SourceSum
	err := s.db.WithContext(ctx).
		Model(&models.StepSample{}).
		Select("source_id, SUM(steps) AS steps").
		Where("user_id = ? AND sample_date >= ? AND sample_date < ? AND manual_entry = ?", userID, start, end, false).
		Group("source_id").
		Scan(&sums).Error
	if err != nil {
		return nil, err
	}
	return sums, nil
}
