package scheduler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/into-the-night/fin-breaker/config"
	"github.com/into-the-night/fin-breaker/internal/agent/core"
)

const (
	maxParallelBriefs = 4
	lockTTL           = 10 * time.Minute
)

// Runner answers a question; *core.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, question, conversationID string) (core.Result, error)
}

type brief struct {
	cfg  config.BriefConfig
	expr *cronexpr.Expression
}

// BriefResult is the latest execution of a scheduled brief.
type BriefResult struct {
	Name           string    `json:"name"`
	ConversationID string    `json:"conversation_id"`
	Answer         string    `json:"answer,omitempty"`
	Outcome        string    `json:"outcome,omitempty"`
	Error          string    `json:"error,omitempty"`
	ScheduledFor   time.Time `json:"scheduled_for"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Scheduler asks configured questions on cron schedules. With a redis client
// each occurrence runs on one replica only.
type Scheduler struct {
	briefs   []brief
	interval time.Duration
	runner   Runner
	rdb      *redis.Client
	logger   *log.Logger
	now      func() time.Time

	mu      sync.Mutex
	last    map[string]time.Time
	results map[string]BriefResult
}

func New(cfg config.SchedulerConfig, runner Runner, rdb *redis.Client, logger *log.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler requires a runner")
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[SCHED] ", log.LstdFlags)
	}
	s := &Scheduler{
		interval: cfg.Interval,
		runner:   runner,
		rdb:      rdb,
		logger:   logger,
		now:      time.Now,
		last:     make(map[string]time.Time),
		results:  make(map[string]BriefResult),
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	for _, b := range cfg.Briefs {
		expr, err := cronexpr.Parse(b.Schedule)
		if err != nil {
			return nil, fmt.Errorf("brief %s: invalid schedule %q: %w", b.Name, b.Schedule, err)
		}
		s.briefs = append(s.briefs, brief{cfg: b, expr: expr})
	}
	return s, nil
}

// Start ticks until ctx is cancelled. Briefs first become due at their next
// occurrence after Start.
func (s *Scheduler) Start(ctx context.Context) {
	start := s.now()
	s.mu.Lock()
	for _, b := range s.briefs {
		if _, ok := s.last[b.cfg.Name]; !ok {
			s.last[b.cfg.Name] = start
		}
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = s.Tick(ctx)
			}
		}
	}()
}

// Tick runs every due brief, at most maxParallelBriefs at a time. Brief
// failures are recorded in Latest; one brief never stops another.
func (s *Scheduler) Tick(ctx context.Context) error {
	now := s.now()
	var g errgroup.Group
	g.SetLimit(maxParallelBriefs)
	for _, b := range s.briefs {
		s.mu.Lock()
		last, seen := s.last[b.cfg.Name]
		s.mu.Unlock()
		var lastPtr *time.Time
		if seen {
			lastPtr = &last
		}
		slot, due := isDue(b.expr, lastPtr, now)
		if !due {
			continue
		}
		s.mu.Lock()
		s.last[b.cfg.Name] = now
		s.mu.Unlock()
		b := b
		g.Go(func() error {
			s.runBrief(ctx, b, slot)
			return nil
		})
	}
	_ = g.Wait()
	return ctx.Err()
}

func (s *Scheduler) runBrief(ctx context.Context, b brief, slot time.Time) {
	id := fmt.Sprintf("brief-%s-%d", b.cfg.Name, slot.Unix())
	out := BriefResult{Name: b.cfg.Name, ConversationID: id, ScheduledFor: slot}
	if s.rdb != nil {
		lockKey := fmt.Sprintf("sched:lock:%s:%d", b.cfg.Name, slot.Unix())
		ok, err := s.rdb.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil {
			out.Error = fmt.Sprintf("acquire lock: %v", err)
			out.FinishedAt = s.now()
			s.logger.Printf("brief %s: acquire lock: %v", b.cfg.Name, err)
			s.record(out)
			return
		}
		if !ok {
			s.logger.Printf("brief %s at %s already claimed by another replica", b.cfg.Name, slot.Format(time.RFC3339))
			return
		}
	}
	s.logger.Printf("running brief %s (%s)", b.cfg.Name, id)
	res, err := s.runner.Run(ctx, b.cfg.Question, id)
	out.FinishedAt = s.now()
	if err != nil {
		out.Error = err.Error()
		s.logger.Printf("brief %s failed: %v", b.cfg.Name, err)
	} else {
		out.Answer = res.Output
		out.Outcome = string(res.Outcome)
	}
	s.record(out)
}

func (s *Scheduler) record(out BriefResult) {
	s.mu.Lock()
	s.results[out.Name] = out
	s.mu.Unlock()
}

// Latest returns the most recent result of every brief that has run.
func (s *Scheduler) Latest() []BriefResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]BriefResult, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// isDue reports whether expr has an occurrence in (last, now] and returns it.
// A brief that has never run is due immediately.
func isDue(expr *cronexpr.Expression, last *time.Time, now time.Time) (time.Time, bool) {
	if last == nil {
		return now, true
	}
	next := expr.Next(*last)
	if next.IsZero() || next.After(now) {
		return next, false
	}
	return next, true
}
