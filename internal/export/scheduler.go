package export

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Locker is the subset of the Redis client used for the run lock.
type Locker interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// releaseScript deletes the lock only while it still holds our token, so a
// run that outlived its TTL cannot drop a lock another instance now owns.
const releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// Scheduler repeats an export on a cron schedule. With a Locker, only the
// instance holding the lock for a tick runs it.
type Scheduler struct {
	Exporter *Exporter
	Job      Job
	Lock     Locker
	LockKey  string
	LockTTL  time.Duration

	expr *cronexpr.Expression
	now  func() time.Time
}

func NewScheduler(exp *Exporter, job Job, spec string) (*Scheduler, error) {
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	return &Scheduler{
		Exporter: exp,
		Job:      job,
		LockKey:  "doorman:export:lock:" + job.Kind.String(),
		LockTTL:  2 * time.Minute,
		expr:     expr,
		now:      time.Now,
	}, nil
}

// Next returns the first activation strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time { return s.expr.Next(t) }

// Run blocks until ctx is cancelled. Failed runs are logged and retried at
// the next activation.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		next := s.Next(s.now())
		if next.IsZero() {
			return fmt.Errorf("schedule has no future activations")
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		if _, _, err := s.Tick(ctx); err != nil {
			s.Exporter.logf("scheduled export failed: %v", err)
		}
	}
}

// Tick performs one scheduled run. ran is false when another instance holds
// the lock.
func (s *Scheduler) Tick(ctx context.Context) (sum Summary, ran bool, err error) {
	if s.Lock != nil {
		token := uuid.NewString()
		ok, err := s.Lock.SetNX(ctx, s.LockKey, token, s.LockTTL).Result()
		if err != nil {
			return Summary{}, false, fmt.Errorf("acquire lock: %w", err)
		}
		if !ok {
			s.Exporter.logf("export lock %s held elsewhere, skipping", s.LockKey)
			return Summary{}, false, nil
		}
		defer func() {
			if rerr := s.Lock.Eval(context.WithoutCancel(ctx), releaseScript, []string{s.LockKey}, token).Err(); rerr != nil {
				s.Exporter.logf("release lock %s: %v", s.LockKey, rerr)
			}
		}()
	}
	sum, err = s.Exporter.Run(ctx, s.Job)
	return sum, true, err
}
