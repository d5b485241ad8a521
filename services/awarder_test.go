package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/striderapp/housepoints/models"
	"github.com/striderapp/housepoints/testutil"
)

type stepCall struct {
	start, end time.Time
}

type fakeSteps struct {
	obs     StepObservation
	err     error
	calls   []stepCall
	started chan struct{}
	release chan struct{}
}

func (f *fakeSteps) FetchSteps(ctx context.Context, userID uint, start, end time.Time) (StepObservation, error) {
	f.calls = append(f.calls, stepCall{start: start, end: end})
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	return f.obs, f.err
}

type incCall struct {
	house models.House
	delta int
}

type fakeLedger struct {
	incs []incCall
	err  error
}

func (f *fakeLedger) Increment(ctx context.Context, house models.House, delta int) error {
	if f.err != nil {
		return f.err
	}
	f.incs = append(f.incs, incCall{house: house, delta: delta})
	return nil
}

func (f *fakeLedger) Reset(ctx context.Context, house models.House) error { return nil }

type fakeVersions struct {
	blocked bool
	err     error
}

func (f *fakeVersions) IsVersionBlocked(ctx context.Context, version string) (bool, error) {
	return f.blocked, f.err
}

type fakeAudit struct {
	entries []*models.AwardLog
	err     error
}

func (f *fakeAudit) Record(ctx context.Context, entry *models.AwardLog) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entry)
	return nil
}

type awarderFixture struct {
	steps    *fakeSteps
	ledger   *fakeLedger
	marks    *MemoryWatermarkStore
	versions *fakeVersions
	audit    *fakeAudit
	awarder  *Awarder
	now      time.Time
}

func newAwarderFixture(t *testing.T, steps int64) *awarderFixture {
	t.Helper()
	f := &awarderFixture{
		steps:    &fakeSteps{obs: StepObservation{TotalSteps: steps, TrustedSourceIDs: []string{"com.apple.health.iphone"}}},
		ledger:   &fakeLedger{},
		marks:    NewMemoryWatermarkStore(),
		versions: &fakeVersions{},
		audit:    &fakeAudit{},
		now:      time.Date(2026, 6, 10, 9, 30, 0, 0, time.Local),
	}
	f.awarder = NewAwarder(f.steps, f.ledger, f.marks, f.versions, f.audit, zap.NewNop().Sugar()).
		WithClock(func() time.Time { return f.now })
	return f
}

func testUser(role models.Role) *models.User {
	return &models.User{
		ID:        7,
		Email:     "jane@example.edu",
		House:     models.HouseRed,
		Role:      role,
		CreatedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.Local),
	}
}

func TestCheckAndAwardConvertsStepsToPoints(t *testing.T) {
	f := newAwarderFixture(t, 12499)
	user := testUser(models.RoleStudent)

	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("CheckAndAward: %v", err)
	}
	if res.Status != StatusAwarded {
		t.Fatalf("status = %s, want awarded", res.Status)
	}
	if res.Points != 2 {
		t.Errorf("points = %d, want 2 (12499 / 5000)", res.Points)
	}
	if len(f.ledger.incs) != 1 || f.ledger.incs[0] != (incCall{house: models.HouseRed, delta: 2}) {
		t.Errorf("ledger calls = %+v, want one +2 for red", f.ledger.incs)
	}

	mark, ok, _ := f.marks.Get(context.Background(), user.ID)
	if !ok || !mark.Equal(StartOfDay(f.now)) {
		t.Errorf("watermark = %v ok=%v, want start of today", mark, ok)
	}

	if len(f.audit.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(f.audit.entries))
	}
	entry := f.audit.entries[0]
	if entry.PointsAdded != 2 || entry.UserID != user.ID || entry.AppVersion != "2.1.0" {
		t.Errorf("audit entry = %+v", entry)
	}
	if entry.TrustedSources != "com.apple.health.iphone" {
		t.Errorf("audit trusted sources = %q", entry.TrustedSources)
	}
	// First-ever award measures from the start of the account's creation day,
	// and the audit entry records the same truncated start the query used.
	wantStart := StartOfDay(user.CreatedAt)
	if len(f.steps.calls) != 1 || !f.steps.calls[0].start.Equal(wantStart) {
		t.Errorf("step window start = %v, want %v", f.steps.calls[0].start, wantStart)
	}
	if !entry.WindowStart.Equal(wantStart) {
		t.Errorf("audit window start = %v, want %v", entry.WindowStart, wantStart)
	}
	if !res.WindowStart.Equal(wantStart) {
		t.Errorf("result window start = %v, want %v", res.WindowStart, wantStart)
	}
}

func TestCheckAndAwardZeroPointsStillAdvancesWatermark(t *testing.T) {
	f := newAwarderFixture(t, 4999)
	user := testUser(models.RoleStudent)

	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("CheckAndAward: %v", err)
	}
	if res.Status != StatusAwarded || res.Points != 0 {
		t.Fatalf("result = %+v, want awarded with 0 points", res)
	}
	if len(f.ledger.incs) != 0 {
		t.Errorf("ledger must not be called for zero points, got %+v", f.ledger.incs)
	}
	mark, ok, _ := f.marks.Get(context.Background(), user.ID)
	if !ok || !mark.Equal(StartOfDay(f.now)) {
		t.Errorf("watermark = %v ok=%v, want start of today even with 0 points", mark, ok)
	}
}

func TestCheckAndAwardNoDoubleAwardWithin24Hours(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	user := testUser(models.RoleStudent)

	if _, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0"); err != nil {
		t.Fatalf("first award: %v", err)
	}

	// Repeated foregrounding for the rest of the day.
	for i := 0; i < 3; i++ {
		f.now = f.now.Add(2 * time.Hour)
		res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
		if err != nil {
			t.Fatalf("repeat attempt %d: %v", i, err)
		}
		if res.Status != StatusNotDue {
			t.Fatalf("repeat attempt %d status = %s, want not_due", i, res.Status)
		}
	}
	if len(f.ledger.incs) != 1 {
		t.Errorf("ledger calls = %d, want exactly 1", len(f.ledger.incs))
	}

	// Past the cooldown the account is due again.
	f.now = StartOfDay(f.now).Add(24*time.Hour + time.Hour)
	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("next-day attempt: %v", err)
	}
	if res.Status != StatusAwarded {
		t.Errorf("next-day status = %s, want awarded", res.Status)
	}
}

func TestCheckAndAwardLedgerFailureKeepsWatermark(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	f.ledger.err = errors.New("ledger unavailable")
	user := testUser(models.RoleStudent)

	if _, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0"); err == nil {
		t.Fatal("expected error when ledger fails")
	}

	if _, ok, _ := f.marks.Get(context.Background(), user.ID); ok {
		t.Fatal("watermark must not advance when the increment fails")
	}
	if len(f.audit.entries) != 0 {
		t.Error("no audit entry may be written for a failed award")
	}

	// Retry re-measures from the same original window start.
	f.ledger.err = nil
	if _, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.steps.calls) != 2 {
		t.Fatalf("step calls = %d, want 2", len(f.steps.calls))
	}
	if !f.steps.calls[1].start.Equal(f.steps.calls[0].start) {
		t.Errorf("retry window start = %v, want original %v", f.steps.calls[1].start, f.steps.calls[0].start)
	}
}

func TestCheckAndAwardBlockedVersion(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	f.versions.blocked = true
	user := testUser(models.RoleStudent)

	_, err := f.awarder.CheckAndAward(context.Background(), user, "2.0.0")
	if !errors.Is(err, ErrBlockedVersion) {
		t.Fatalf("err = %v, want ErrBlockedVersion", err)
	}
	if len(f.ledger.incs) != 0 {
		t.Error("blocked version must not touch the ledger")
	}
	if _, ok, _ := f.marks.Get(context.Background(), user.ID); ok {
		t.Error("blocked version must not advance the watermark")
	}
}

func TestCheckAndAwardVersionGateFetchFailureAborts(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	f.versions.err = errors.New("policy store down")
	user := testUser(models.RoleStudent)

	if _, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0"); err == nil {
		t.Fatal("expected error when blocked version list cannot be fetched")
	}
	if len(f.ledger.incs) != 0 {
		t.Error("ledger must stay untouched")
	}
}

func TestCheckAndAwardIneligibleRolesNeverScore(t *testing.T) {
	for _, role := range []models.Role{models.RoleAlumnus, models.RoleTeacher, models.RoleAdmin, models.RoleUnknown} {
		t.Run(string(role), func(t *testing.T) {
			f := newAwarderFixture(t, 1_000_000)
			res, err := f.awarder.CheckAndAward(context.Background(), testUser(role), "2.1.0")
			if err != nil {
				t.Fatalf("CheckAndAward: %v", err)
			}
			if res.Status != StatusNotDue {
				t.Fatalf("status = %s, want not_due", res.Status)
			}
			if len(f.ledger.incs) != 0 {
				t.Error("ineligible account must never trigger a ledger write")
			}
		})
	}
}

func TestCheckAndAwardNotDueBeforeCooldown(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	user := testUser(models.RoleStudent)
	// Watermark one hour old.
	_ = f.marks.Set(context.Background(), user.ID, f.now.Add(-time.Hour))

	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("CheckAndAward: %v", err)
	}
	if res.Status != StatusNotDue {
		t.Fatalf("status = %s, want not_due", res.Status)
	}
	if len(f.steps.calls) != 0 {
		t.Error("not-due attempt must not measure steps")
	}
	if want := f.now.Add(23 * time.Hour); !res.NextEligibleAt.Equal(want) {
		t.Errorf("next eligible = %v, want %v", res.NextEligibleAt, want)
	}
}

func TestCheckAndAwardNegativeStepsClampToZero(t *testing.T) {
	f := newAwarderFixture(t, -500)
	user := testUser(models.RoleStudent)

	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("CheckAndAward: %v", err)
	}
	if res.Points != 0 || res.Steps != 0 {
		t.Errorf("result = %+v, want 0 steps and 0 points", res)
	}
	if len(f.ledger.incs) != 0 {
		t.Error("negative totals must never reach the ledger")
	}
}

func TestCheckAndAwardStepFailureAborts(t *testing.T) {
	f := newAwarderFixture(t, 0)
	f.steps.err = errors.New("health query failed")
	user := testUser(models.RoleStudent)

	if _, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0"); err == nil {
		t.Fatal("expected error when the step read fails")
	}
	if _, ok, _ := f.marks.Get(context.Background(), user.ID); ok {
		t.Error("watermark must not advance on a failed measurement")
	}
}

func TestCheckAndAwardAuditFailureDoesNotRollBack(t *testing.T) {
	f := newAwarderFixture(t, 10000)
	f.audit.err = errors.New("audit table unavailable")
	user := testUser(models.RoleStudent)

	res, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if err != nil {
		t.Fatalf("audit failure must not fail the award: %v", err)
	}
	if res.Status != StatusAwarded || res.Points != 2 {
		t.Fatalf("result = %+v, want awarded with 2 points", res)
	}
	if len(f.ledger.incs) != 1 {
		t.Error("increment must stand despite the audit failure")
	}
}

func TestCheckAndAwardSingleFlightPerAccount(t *testing.T) {
	f := newAwarderFixture(t, 20000)
	f.steps.started = make(chan struct{})
	f.steps.release = make(chan struct{})
	user := testUser(models.RoleStudent)

	done := make(chan error, 1)
	go func() {
		_, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
		done <- err
	}()

	<-f.steps.started
	_, err := f.awarder.CheckAndAward(context.Background(), user, "2.1.0")
	if !errors.Is(err, ErrAwardInFlight) {
		t.Fatalf("concurrent call err = %v, want ErrAwardInFlight", err)
	}

	close(f.steps.release)
	if err := <-done; err != nil {
		t.Fatalf("first call: %v", err)
	}
}

// Runs the pipeline over the real sample store across three consecutive
// daily awards. Adjacent windows share their boundary instant, so each
// sample day must be counted by exactly one award.
func TestCheckAndAwardCountsEachDayOnce(t *testing.T) {
	db := testutil.OpenTestDB(t)
	ctx := context.Background()

	ledger := NewHouseLedger(db)
	if err := ledger.Seed(ctx); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}

	day := time.Date(2026, 6, 8, 0, 0, 0, 0, time.Local)
	samples := []models.StepSample{
		{UserID: 7, SourceID: "com.apple.health.iphone", SampleDate: day, Steps: 5000},
		{UserID: 7, SourceID: "com.apple.health.iphone", SampleDate: day.AddDate(0, 0, 1), Steps: 5000},
	}
	if err := db.Create(&samples).Error; err != nil {
		t.Fatalf("seed samples: %v", err)
	}

	src := NewStepSource(NewGormSampleStore(db), &fakeAllowlist{ids: map[string]struct{}{}})
	marks := NewMemoryWatermarkStore()
	now := day.Add(7 * time.Hour)
	awarder := NewAwarder(src, ledger, marks, &fakeVersions{}, &fakeAudit{}, zap.NewNop().Sugar()).
		WithClock(func() time.Time { return now })

	user := testUser(models.RoleStudent)
	user.CreatedAt = now

	var totalPoints int
	for i, want := range []int{1, 1, 0} {
		now = day.AddDate(0, 0, i+1).Add(9 * time.Hour)
		res, err := awarder.CheckAndAward(ctx, user, "2.1.0")
		if err != nil {
			t.Fatalf("award %d: %v", i+1, err)
		}
		if res.Status != StatusAwarded {
			t.Fatalf("award %d status = %s, want awarded", i+1, res.Status)
		}
		if res.Points != want {
			t.Errorf("award %d points = %d, want %d", i+1, res.Points, want)
		}
		totalPoints += res.Points
	}

	got, err := ledger.Points(ctx, models.HouseRed)
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	if got != 2 || totalPoints != 2 {
		t.Errorf("ledger = %d, awarded = %d; 10000 steps must yield exactly 2", got, totalPoints)
	}
}
