package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/hiccup-service/internal/observability"
)

// JobFunc is one tick of a scheduled job.
type JobFunc func(ctx context.Context, now time.Time) error

// Job describes a recurring task. Exactly one of Interval or Daily is set.
type Job struct {
	Name     string
	Interval time.Duration
	Daily    *DailyAt
	Run      JobFunc
}

// DailyAt is a wall-clock time in the scheduler location.
type DailyAt struct {
	Hour   int
	Minute int
}

// Locker grants a job tick to a single replica.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// NoopLocker grants every tick. It is used when the process runs alone.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) (bool, error) { return true, nil }

// RedisLocker takes tick locks with SET NX so only one replica runs a tick.
type RedisLocker struct {
	client *redis.Client
	prefix string
	owner  string
}

// NewRedisLocker constructs the locker.
func NewRedisLocker(client *redis.Client, prefix string) *RedisLocker {
	return &RedisLocker{client: client, prefix: prefix, owner: uuid.NewString()}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, l.prefix+key, l.owner, ttl).Result()
}

// Scheduler owns the background jobs of the service.
type Scheduler struct {
	jobs    []Job
	loc     *time.Location
	locker  Locker
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// SchedulerDependencies wires the scheduler.
type SchedulerDependencies struct {
	Location *time.Location
	Locker   Locker
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Clock    func() time.Time
}

// NewScheduler creates a scheduler for jobs.
func NewScheduler(deps SchedulerDependencies, jobs ...Job) *Scheduler {
	s := &Scheduler{
		jobs:    jobs,
		loc:     deps.Location,
		locker:  deps.Locker,
		logger:  deps.Logger,
		metrics: deps.Metrics,
		now:     deps.Clock,
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.locker == nil {
		s.locker = NoopLocker{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Start launches one loop per job. Calling Start twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)

	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
		if job.Daily != nil {
			s.logger.Info("scheduled daily job",
				zap.String("job", job.Name),
				zap.String("at", fmt.Sprintf("%02d:%02d", job.Daily.Hour, job.Daily.Minute)),
				zap.String("timezone", s.loc.String()))
		} else {
			s.logger.Info("scheduled interval job", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
		}
	}
}

// Stop cancels all loops and waits for running ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	if job.Daily == nil {
		if job.Interval <= 0 {
			s.logger.Error("job has no interval; not scheduling", zap.String("job", job.Name))
			return
		}
		ticker := time.NewTicker(job.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := s.now()
				slot := now.Truncate(job.Interval)
				s.RunOnce(ctx, job, slot.UTC().Format(time.RFC3339), job.Interval)
			case <-ctx.Done():
				return
			}
		}
	}

	for {
		next := NextDailyRun(s.now(), job.Daily.Hour, job.Daily.Minute, s.loc)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-timer.C:
			s.RunOnce(ctx, job, next.In(s.loc).Format("2006-01-02"), time.Hour)
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// RunOnce executes a single tick of job under the tick lock. Panics and
// errors are logged and counted; they never stop the job loop.
func (s *Scheduler) RunOnce(ctx context.Context, job Job, tick string, lockTTL time.Duration) {
	ok, err := s.locker.Acquire(ctx, job.Name+":"+tick, lockTTL)
	if err != nil {
		s.logger.Warn("scheduler lock unavailable; running tick anyway", zap.String("job", job.Name), zap.Error(err))
		ok = true
	}
	if !ok {
		s.logger.Debug("tick owned by another replica", zap.String("job", job.Name), zap.String("tick", tick))
		s.metrics.RecordJob(job.Name, "skipped", 0)
		return
	}

	start := time.Now()
	result := "ok"
	defer func() {
		if r := recover(); r != nil {
			result = "panic"
			s.logger.Error("scheduled job panicked", zap.String("job", job.Name), zap.Any("panic", r))
		}
		s.metrics.RecordJob(job.Name, result, time.Since(start))
	}()

	if err := job.Run(ctx, s.now()); err != nil {
		result = "error"
		s.logger.Error("scheduled job failed", zap.String("job", job.Name), zap.Error(err))
	}
}

// NextDailyRun returns the first instant strictly after now at hour:minute in loc.
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}
