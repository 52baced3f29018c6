package db

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/drills"
	"jagruk/preparedness/internal/progress"
	"jagruk/preparedness/internal/roster"
)

var (
	_ roster.Repository   = (*Store)(nil)
	_ drills.Repository   = (*Store)(nil)
	_ alerts.Repository   = (*Store)(nil)
	_ progress.Repository = (*Store)(nil)
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := NewPool(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(pool.Close)
	store := NewStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return store
}

func TestDrillCheckInCompareAndSet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	school := "school-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	drill := drills.Drill{
		ID:            uuid.NewString(),
		SchoolID:      school,
		Title:         "Fire",
		Description:   "Evacuate",
		Type:          drills.TypePhysical,
		ScheduledAt:   now,
		Status:        drills.StatusScheduled,
		TargetClasses: []string{"7a"},
		Participants:  []string{"A", "B"},
		Attendance:    map[string]bool{},
		CreatedBy:     "admin",
		CreatedAt:     now,
	}
	if err := store.CreateDrill(ctx, drill); err != nil {
		t.Fatalf("create drill: %v", err)
	}

	rec := drills.AttendanceRecord{ID: uuid.NewString(), DrillID: drill.ID, StudentID: "A", SchoolID: school, RecordedAt: now}
	if _, err := store.RecordCheckIn(ctx, rec); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict before start, got %v", err)
	}
	if _, err := store.StartDrill(ctx, school, drill.ID, now); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := store.StartDrill(ctx, school, drill.ID, now); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second start, got %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := rec
			r.ID = uuid.NewString()
			if _, err := store.RecordCheckIn(ctx, r); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("expected one winning check-in, got %d", wins)
	}

	outsider := rec
	outsider.ID = uuid.NewString()
	outsider.StudentID = "Z"
	if _, err := store.RecordCheckIn(ctx, outsider); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict for non participant, got %v", err)
	}

	done, err := store.CompleteDrill(ctx, school, drill.ID, now)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.CompletionRate == nil || *done.CompletionRate != 0.5 {
		t.Fatalf("expected completion rate 0.5, got %v", done.CompletionRate)
	}
	if _, err := store.OverrideAttendance(ctx, school, drill.ID, "B", true); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict overriding a completed drill, got %v", err)
	}

	records, err := store.ListAttendanceRecords(ctx, school, drill.ID)
	if err != nil {
		t.Fatalf("records: %v", err)
	}
	if len(records) != 1 || records[0].StudentID != "A" {
		t.Fatalf("unexpected records %+v", records)
	}
	if _, err := store.GetDrill(ctx, school, "missing"); !errors.Is(err, apperr.ErrNoRecord) {
		t.Fatalf("expected no record, got %v", err)
	}
}

func TestAlertDismissAndReaders(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	school := "school-" + uuid.NewString()
	now := time.Now().UTC()
	expires := now.Add(-time.Second)

	a := alerts.Alert{
		ID: uuid.NewString(), SchoolID: school, Title: "t", Message: "m",
		Priority: alerts.PriorityHigh, Audience: alerts.AudienceAll, Active: true,
		CreatedBy: "admin", CreatedAt: now, ExpiresAt: &expires,
	}
	if err := store.CreateAlert(ctx, a); err != nil {
		t.Fatalf("create alert: %v", err)
	}
	for i := 0; i < 2; i++ {
		got, err := store.AddReader(ctx, school, a.ID, "A")
		if err != nil {
			t.Fatalf("add reader: %v", err)
		}
		if len(got.ReadBy) != 1 {
			t.Fatalf("expected one reader, got %v", got.ReadBy)
		}
	}

	expired, err := store.ListExpired(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	found := false
	for _, e := range expired {
		found = found || e.ID == a.ID
	}
	if !found {
		t.Fatalf("expected alert in expired list")
	}

	if _, err := store.DismissAlert(ctx, school, a.ID, "admin", now); err != nil {
		t.Fatalf("dismiss: %v", err)
	}
	if _, err := store.DismissAlert(ctx, school, a.ID, "admin", now); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict on second dismiss, got %v", err)
	}
	if _, err := store.DismissAlert(ctx, school, "missing", "admin", now); !errors.Is(err, apperr.ErrNoRecord) {
		t.Fatalf("expected no record, got %v", err)
	}
}

func TestStudentsAndCompletions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	school := "school-" + uuid.NewString()
	now := time.Now().UTC()

	for _, st := range []roster.Student{
		{ID: "A", SchoolID: school, ClassID: "7a", Name: "Asha", CreatedAt: now},
		{ID: "B", SchoolID: school, ClassID: "8b", Name: "Bilal", CreatedAt: now},
	} {
		if err := store.CreateStudent(ctx, st); err != nil {
			t.Fatalf("create student: %v", err)
		}
	}
	if err := store.CreateStudent(ctx, roster.Student{ID: "A", SchoolID: school, ClassID: "7a", Name: "x", CreatedAt: now}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	inClass, err := store.ListStudentsInClasses(ctx, school, []string{"7a"})
	if err != nil || len(inClass) != 1 {
		t.Fatalf("unexpected class list %v: %v", inClass, err)
	}

	if _, err := store.RecordCompletion(ctx, progress.Completion{SchoolID: school, StudentID: "A", ModuleID: "m1", Score: 90, CompletedAt: now}); err != nil {
		t.Fatalf("record completion: %v", err)
	}
	got, err := store.RecordCompletion(ctx, progress.Completion{SchoolID: school, StudentID: "A", ModuleID: "m1", Score: 10, CompletedAt: now.Add(time.Minute)})
	if err != nil {
		t.Fatalf("record completion: %v", err)
	}
	if got.Score != 90 {
		t.Fatalf("expected best score to be kept, got %d", got.Score)
	}
}
