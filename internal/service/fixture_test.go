package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/config"
	"github.com/spec-kit/hiccup-service/internal/domain"
	"github.com/spec-kit/hiccup-service/internal/events"
	"github.com/spec-kit/hiccup-service/internal/notification"
	"github.com/spec-kit/hiccup-service/internal/repository"
)

var (
	alice       = domain.Actor{ID: "alice", Name: "Alice", Role: domain.RoleStaff, Unit: "ICU"}
	bob         = domain.Actor{ID: "bob", Name: "Bob", Role: domain.RoleStaff, Unit: "Pharmacy"}
	carol       = domain.Actor{ID: "carol", Name: "Carol", Role: domain.RoleStaff, Unit: "Lab"}
	hodICU      = domain.Actor{ID: "hod-icu", Name: "Dr Icu", Role: domain.RoleUnitHead, Unit: "ICU"}
	hodPharmacy = domain.Actor{ID: "hod-ph", Name: "Dr Ph", Role: domain.RoleUnitHead, Unit: "Pharmacy"}
	manager     = domain.Actor{ID: "mgr", Name: "Manager", Role: domain.RoleManagement, Unit: "Admin"}
	admin       = domain.Actor{ID: "root", Name: "Admin", Role: domain.RoleAdmin, Unit: "IT"}
)

const bobPhone = "+919800000002"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store      *repository.MemoryStore
	cases      *CaseService
	reports    *ReportService
	monitor    *MonitorService
	queue      *notification.MemoryQueue
	clock      *fakeClock
	dispatcher events.Dispatcher
}

func testLocation(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil, 64)
}

func newFixtureWith(t *testing.T, repo repository.CaseRepository, queueSize int) *fixture {
	t.Helper()
	loc := testLocation(t)
	store := repository.NewMemoryStore()
	if repo == nil {
		repo = store.Cases()
	}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher(logger)
	queue := notification.NewMemoryQueue(queueSize)

	notifications := NewNotificationService(dispatcher, queue, logger, nil, config.NotificationConfig{
		ManagementNumbers: []string{"+919800000100", "+919800000101"},
	}, loc)
	notifications.RegisterHandlers()

	phone := bobPhone
	require.NoError(t, store.Staff().Upsert(context.Background(), &domain.StaffMember{
		ID: bob.ID, Name: bob.Name, Role: bob.Role, Unit: bob.Unit, Phone: &phone,
	}))

	cases := NewCaseService(CaseDependencies{
		CaseRepo:   repo,
		StaffRepo:  store.Staff(),
		Dispatcher: dispatcher,
		Logger:     logger,
		Clock:      clock.Now,
		Location:   loc,
		Config: config.CaseConfig{
			IDPrefix:         "HCP",
			ResponseSLAHours: 24,
			ClosureSLAHours:  72,
			FollowupDays:     7,
			SystemUnit:       "System",
		},
	})
	reports := NewReportService(repo, loc)
	monitor := NewMonitorService(MonitorDependencies{
		CaseRepo:   repo,
		Reports:    reports,
		Dispatcher: dispatcher,
		Logger:     logger,
		Policy:     cases.Policy(),
	})
	return &fixture{
		store:      store,
		cases:      cases,
		reports:    reports,
		monitor:    monitor,
		queue:      queue,
		clock:      clock,
		dispatcher: dispatcher,
	}
}

func (f *fixture) drain(t *testing.T) []notification.Message {
	t.Helper()
	var out []notification.Message
	for f.queue.Len() > 0 {
		msg, err := f.queue.Dequeue(context.Background())
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func strPtr(s string) *string { return &s }

func (f *fixture) raise(t *testing.T, actor domain.Actor, input CreateCaseInput) *domain.Case {
	t.Helper()
	if input.Kind == "" {
		input.Kind = domain.CaseKindSystem
	}
	if input.Target == "" {
		input.Target = "Pharmacy EMR"
	}
	if input.Description == "" {
		input.Description = "medication order stuck in queue"
	}
	c, err := f.cases.CreateCase(context.Background(), actor, input)
	require.NoError(t, err)
	return c
}
