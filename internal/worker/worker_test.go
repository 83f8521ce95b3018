package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/notification"
	"github.com/spec-kit/hiccup-service/internal/observability"
)

func TestNextDailyRun(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)

	before := time.Date(2026, 10, 14, 10, 30, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 14, 11, 0, 0, 0, loc), NextDailyRun(before, 11, 0, loc))

	exactly := time.Date(2026, 10, 14, 11, 0, 0, 0, loc)
	assert.Equal(t, time.Date(2026, 10, 15, 11, 0, 0, 0, loc), NextDailyRun(exactly, 11, 0, loc))

	// 06:00 UTC is 11:30 in Kolkata, so the next run is tomorrow.
	utc := time.Date(2026, 12, 31, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2027, 1, 1, 11, 0, 0, 0, loc), NextDailyRun(utc, 11, 0, loc))
}

type localLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func (l *localLocker) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func TestScheduler_RunOnceRecoversAndLocks(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	locker := &localLocker{held: map[string]bool{}}
	s := NewScheduler(SchedulerDependencies{Locker: locker, Logger: zap.NewNop(), Metrics: metrics})

	var calls atomic.Int32
	panicky := Job{Name: "overdue", Interval: time.Hour, Run: func(context.Context, time.Time) error {
		calls.Add(1)
		panic("store exploded")
	}}
	require.NotPanics(t, func() { s.RunOnce(context.Background(), panicky, "slot-1", time.Minute) })

	// A second replica sharing the lock skips the same tick.
	other := NewScheduler(SchedulerDependencies{Locker: locker, Logger: zap.NewNop()})
	other.RunOnce(context.Background(), panicky, "slot-1", time.Minute)
	assert.Equal(t, int32(1), calls.Load())

	failing := Job{Name: "followups", Interval: time.Hour, Run: func(context.Context, time.Time) error {
		calls.Add(1)
		return errors.New("db down")
	}}
	s.RunOnce(context.Background(), failing, "slot-1", time.Minute)
	assert.Equal(t, int32(2), calls.Load())
}

func TestScheduler_IntervalLoopKeepsRunningAfterFailures(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(SchedulerDependencies{Logger: zap.NewNop()}, Job{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context, time.Time) error {
			if calls.Add(1)%2 == 0 {
				panic("every other tick")
			}
			return errors.New("odd tick")
		},
	})
	s.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 4 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()

	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "no ticks after Stop")
}

type recordingGateway struct {
	mu       sync.Mutex
	sent     []notification.Message
	attempts int
	fail     bool
}

func (g *recordingGateway) Send(_ context.Context, msg notification.Message) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.attempts++
	if g.fail {
		return errors.New("gateway unreachable")
	}
	g.sent = append(g.sent, msg)
	return nil
}

func (g *recordingGateway) count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func TestNotificationWorker_DrainsQueue(t *testing.T) {
	q := notification.NewMemoryQueue(10)
	gw := &recordingGateway{}
	w := NewNotificationWorker(q, gw, zap.NewNop(), nil)
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, notification.Message{To: []string{"+91"}, Body: "one"}))
	require.NoError(t, q.Enqueue(ctx, notification.Message{Body: "no recipients"}))
	require.NoError(t, q.Enqueue(ctx, notification.Message{To: []string{"+92"}, Body: "two"}))

	require.Eventually(t, func() bool { return gw.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNotificationWorker_SurvivesGatewayFailure(t *testing.T) {
	q := notification.NewMemoryQueue(10)
	gw := &recordingGateway{fail: true}
	w := NewNotificationWorker(q, gw, zap.NewNop(), nil)
	w.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, notification.Message{To: []string{"+91"}, Body: "lost"}))
	require.Eventually(t, func() bool {
		gw.mu.Lock()
		defer gw.mu.Unlock()
		return gw.attempts == 1
	}, time.Second, 5*time.Millisecond)

	gw.mu.Lock()
	gw.fail = false
	gw.mu.Unlock()
	require.NoError(t, q.Enqueue(ctx, notification.Message{To: []string{"+91"}, Body: "delivered"}))
	require.Eventually(t, func() bool { return gw.count() == 1 }, time.Second, 5*time.Millisecond)

	w.Stop()
	w.Stop()
}
