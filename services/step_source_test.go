package services

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/testutil"
)

type fakeSampleStore struct {
	sums []SourceSum
	err  error

	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeSampleStore) SumBySource(ctx context.Context, userID uint, start, end time.Time) ([]SourceSum, error) {
	f.lastStart = start
	f.lastEnd = end
	return f.sums, f.err
}

type fakeAllowlist struct {
	ids map[string]struct{}
	err error
}

func (f *fakeAllowlist) TrustedSourceIDs(ctx context.Context) (map[string]struct{}, error) {
	return f.ids, f.err
}

func TestStepSourceFiltersUntrustedSources(t *testing.T) {
	samples := &fakeSampleStore{sums: []SourceSum{
		{SourceID: "com.stridetracker.app", Steps: 7000},
		{SourceID: "com.bogus.stepfaker", Steps: 3000},
	}}
	allow := &fakeAllowlist{ids: map[string]struct{}{"com.stridetracker.app": {}}}
	src := NewStepSource(samples, allow)

	obs, err := src.FetchSteps(context.Background(), 1, time.Now().Add(-48*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("FetchSteps: %v", err)
	}
	if obs.TotalSteps != 7000 {
		t.Errorf("TotalSteps = %d, want 7000", obs.TotalSteps)
	}
	if want := []string{"com.stridetracker.app"}; !reflect.DeepEqual(obs.TrustedSourceIDs, want) {
		t.Errorf("TrustedSourceIDs = %v, want %v", obs.TrustedSourceIDs, want)
	}
}

func TestStepSourcePlatformNamespaceAlwaysTrusted(t *testing.T) {
	samples := &fakeSampleStore{sums: []SourceSum{
		{SourceID: "com.apple.health.iphone", Steps: 4000},
		{SourceID: "com.other.app", Steps: 2000},
	}}
	// Empty allow-list: only the platform namespace survives.
	src := NewStepSource(samples, &fakeAllowlist{ids: map[string]struct{}{}})

	obs, err := src.FetchSteps(context.Background(), 1, time.Now().Add(-48*time.Hour), time.Now())
	if err != nil {
		t.Fatalf("FetchSteps: %v", err)
	}
	if obs.TotalSteps != 4000 {
		t.Errorf("TotalSteps = %d, want 4000", obs.TotalSteps)
	}
}

func TestStepSourceWindowStartRequired(t *testing.T) {
	src := NewStepSource(&fakeSampleStore{}, &fakeAllowlist{})
	_, err := src.FetchSteps(context.Background(), 1, time.Time{}, time.Now())
	if !errors.Is(err, ErrMissingWindowStart) {
		t.Fatalf("err = %v, want ErrMissingWindowStart", err)
	}
}

func TestStepSourceAllowlistFailureFailsRead(t *testing.T) {
	boom := errors.New("redis down")
	samples := &fakeSampleStore{sums: []SourceSum{{SourceID: "com.apple.health.iphone", Steps: 100}}}
	src := NewStepSource(samples, &fakeAllowlist{err: boom})

	_, err := src.FetchSteps(context.Background(), 1, time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped allow-list failure", err)
	}
}

func TestStepSourceQueryFailurePropagates(t *testing.T) {
	boom := errors.New("db down")
	src := NewStepSource(&fakeSampleStore{err: boom}, &fakeAllowlist{})

	_, err := src.FetchSteps(context.Background(), 1, time.Now().Add(-time.Hour), time.Now())
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped query failure", err)
	}
}

func TestStepSourceTruncatesWindowStartToDay(t *testing.T) {
	samples := &fakeSampleStore{}
	src := NewStepSource(samples, &fakeAllowlist{ids: map[string]struct{}{}})

	start := time.Date(2026, 3, 14, 17, 45, 0, 0, time.Local)
	if _, err := src.FetchSteps(context.Background(), 1, start, start.Add(24*time.Hour)); err != nil {
		t.Fatalf("FetchSteps: %v", err)
	}
	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.Local)
	if !samples.lastStart.Equal(want) {
		t.Errorf("query start = %v, want %v", samples.lastStart, want)
	}
}

func TestGormSampleStoreExcludesManualEntries(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewGormSampleStore(db)
	ctx := context.Background()

	day := time.Date(2026, 5, 2, 0, 0, 0, 0, time.Local)
	rows := []models.StepSample{
		{UserID: 1, SourceID: "com.apple.health.iphone", SampleDate: day, Steps: 3000},
		{UserID: 1, SourceID: "com.apple.health.iphone", SampleDate: day.AddDate(0, 0, 1), Steps: 2000},
		{UserID: 1, SourceID: "com.apple.health.manual", SampleDate: day, Steps: 9999, ManualEntry: true},
		{UserID: 2, SourceID: "com.apple.health.iphone", SampleDate: day, Steps: 500},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed samples: %v", err)
	}

	sums, err := store.SumBySource(ctx, 1, day, day.AddDate(0, 0, 2))
	if err != nil {
		t.Fatalf("SumBySource: %v", err)
	}
	if len(sums) != 1 {
		t.Fatalf("got %d sources, want 1 (manual entries and other users excluded): %v", len(sums), sums)
	}
	if sums[0].SourceID != "com.apple.health.iphone" || sums[0].Steps != 5000 {
		t.Errorf("sum = %+v, want com.apple.health.iphone/5000", sums[0])
	}
}

func TestGormSampleStoreEndDayExcluded(t *testing.T) {
	db := testutil.OpenTestDB(t)
	store := NewGormSampleStore(db)
	ctx := context.Background()

	day := time.Date(2026, 5, 2, 0, 0, 0, 0, time.Local)
	rows := []models.StepSample{
		{UserID: 1, SourceID: "com.apple.health.iphone", SampleDate: day, Steps: 5000},
		{UserID: 1, SourceID: "com.apple.health.iphone", SampleDate: day.AddDate(0, 0, 1), Steps: 4000},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed samples: %v", err)
	}

	// The boundary day belongs to the next window, never to this one.
	sums, err := store.SumBySource(ctx, 1, day, day.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("SumBySource: %v", err)
	}
	if len(sums) != 1 || sums[0].Steps != 5000 {
		t.Fatalf("sums = %+v, want only the fully elapsed day (5000)", sums)
	}
}
