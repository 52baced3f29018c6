package alerts_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jagruk/preparedness/internal/alerts"
	"jagruk/preparedness/internal/apperr"
	"jagruk/preparedness/internal/auth"
	"jagruk/preparedness/internal/memstore"
	"jagruk/preparedness/internal/rooms"
)

type hubClient struct {
	id   string
	mu   sync.Mutex
	msgs []rooms.Message
}

func (c *hubClient) ID() string { return c.id }

func (c *hubClient) Deliver(msg rooms.Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return true
}

func (c *hubClient) events() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.msgs))
	for _, m := range c.msgs {
		out = append(out, m.Event)
	}
	return out
}

func join(t *testing.T, hub *rooms.Hub, c rooms.Client, keys ...rooms.Key) {
	t.Helper()
	for _, key := range keys {
		require.NoError(t, hub.Join(c, key))
	}
}

func TestStaffAlertNeverReachesStudents(t *testing.T) {
	hub := rooms.NewHub(nil)
	defer hub.Close()
	svc := alerts.NewService(memstore.New(), hub, nil, nil)
	ctx := context.Background()

	studentConn := &hubClient{id: "student"}
	staffConn := &hubClient{id: "staff"}
	join(t, hub, studentConn, rooms.School("s1"), rooms.Class("s1", "7a"))
	join(t, hub, staffConn, rooms.School("s1"), rooms.Staff("s1"))

	alert, err := svc.Send(ctx, admin, alerts.SendRequest{
		Title:    "Evacuation roles",
		Message:  "Wardens meet at gate B",
		Priority: alerts.PriorityCritical,
		Audience: alerts.AudienceStaff,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{alerts.EventSchoolAlert, alerts.EventEmergencyBroadcast}, staffConn.events())
	assert.Empty(t, studentConn.events())

	_, err = svc.MarkRead(ctx, student, alert.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
	_, err = svc.Get(ctx, student, alert.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	read, err := svc.MarkRead(ctx, staff, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"staff-1"}, read.ReadBy)

	_, err = svc.Dismiss(ctx, staff, alert.ID)
	require.NoError(t, err)
	assert.Equal(t, alerts.EventDismissed, staffConn.events()[2])
	assert.Empty(t, studentConn.events())
}

func TestMarkReadOtherClassAlertIsNotFound(t *testing.T) {
	svc, _, _ := newService()
	ctx := context.Background()
	alert, err := svc.Send(ctx, admin, alerts.SendRequest{
		Title: "t", Message: "m", Priority: alerts.PriorityLow,
		Audience: alerts.AudienceClass, ClassID: "8b",
	})
	require.NoError(t, err)

	_, err = svc.MarkRead(ctx, student, alert.ID)
	assert.Equal(t, apperr.CodeAlertNotFound, apperr.From(err).Code)
}

func TestCriticalAlertReachesOnlyItsSchool(t *testing.T) {
	hub := rooms.NewHub(nil)
	defer hub.Close()
	svc := alerts.NewService(memstore.New(), hub, nil, nil)

	first := &hubClient{id: "c1"}
	second := &hubClient{id: "c2"}
	elsewhere := &hubClient{id: "c3"}
	join(t, hub, first, rooms.School("s1"))
	join(t, hub, second, rooms.School("s1"))
	join(t, hub, elsewhere, rooms.School("s2"))

	_, err := svc.Send(context.Background(), admin, alerts.SendRequest{
		Title:    "Flood",
		Message:  "Move to the upper floor",
		Priority: alerts.PriorityCritical,
	})
	require.NoError(t, err)

	want := []string{alerts.EventSchoolAlert, alerts.EventEmergencyBroadcast}
	assert.Equal(t, want, first.events())
	assert.Equal(t, want, second.events())
	assert.Empty(t, elsewhere.events())
}

var errStoreDown = errors.New("store down")

// failingStore rejects alert writes while fail is set.
type failingStore struct {
	*memstore.Store
	fail bool
	// shared is handed out by ListAlerts as is when set.
	shared []alerts.Alert
}

func (s *failingStore) ListAlerts(ctx context.Context, schoolID string, activeOnly bool) ([]alerts.Alert, error) {
	if s.shared != nil {
		return s.shared, nil
	}
	return s.Store.ListAlerts(ctx, schoolID, activeOnly)
}

func (s *failingStore) CreateAlert(ctx context.Context, a alerts.Alert) error {
	if s.fail {
		return errStoreDown
	}
	return s.Store.CreateAlert(ctx, a)
}

func (s *failingStore) DismissAlert(ctx context.Context, schoolID, alertID, by string, at time.Time) (alerts.Alert, error) {
	if s.fail {
		return alerts.Alert{}, errStoreDown
	}
	return s.Store.DismissAlert(ctx, schoolID, alertID, by, at)
}

func TestFailedWritesPublishNothing(t *testing.T) {
	store := &failingStore{Store: memstore.New()}
	pub := &recordingPublisher{}
	notifier := &recordingNotifier{}
	svc := alerts.NewService(store, pub, notifier, nil)
	ctx := context.Background()

	alert, err := svc.Send(ctx, admin, alerts.SendRequest{Title: "t", Message: "m", Priority: alerts.PriorityHigh})
	require.NoError(t, err)
	require.Len(t, pub.all(), 1)
	require.Len(t, notifier.sent, 1)

	store.fail = true
	_, err = svc.Send(ctx, admin, alerts.SendRequest{Title: "t", Message: "m", Priority: alerts.PriorityCritical})
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	_, err = svc.Dismiss(ctx, staff, alert.ID)
	assert.True(t, apperr.Is(err, apperr.KindInternal))

	assert.Len(t, pub.all(), 1)
	assert.Len(t, notifier.sent, 1)

	got, err := svc.Get(ctx, admin, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
}

func TestStudentListLeavesRepositorySliceIntact(t *testing.T) {
	store := &failingStore{Store: memstore.New()}
	svc := alerts.NewService(store, &recordingPublisher{}, nil, nil)
	store.shared = []alerts.Alert{
		{ID: "hidden", SchoolID: "s1", Audience: alerts.AudienceStaff},
		{ID: "shown", SchoolID: "s1", Audience: alerts.AudienceAll},
	}

	visible, err := svc.List(context.Background(), student, false)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "shown", visible[0].ID)
	assert.Equal(t, "hidden", store.shared[0].ID)
}

func TestStaffAudienceRoom(t *testing.T) {
	a := alerts.Alert{SchoolID: "s1", Audience: alerts.AudienceStaff}
	assert.Equal(t, rooms.Staff("s1"), a.Room())
	a.Audience = alerts.AudienceStudents
	assert.Equal(t, rooms.School("s1"), a.Room())
	assert.True(t, alerts.VisibleTo(a, auth.Identity{Role: auth.RoleStudent}))
}
