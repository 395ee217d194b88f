package cron

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	rcron "github.com/robfig/cron/v3"
)

// Job is a recurring maintenance task. Action names what the handler does
// ("quota:prune", "leaderboard:post"); Channel and ChatID address any output.
type Job struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Expr    string   `json:"expr"`
	Action  string   `json:"action"`
	Channel string   `json:"channel,omitempty"`
	ChatID  string   `json:"chatId,omitempty"`
	Enabled bool     `json:"enabled"`
	State   JobState `json:"state"`
}

type JobState struct {
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
	Runs       int       `json:"runs"`
}

func NewJob(name, expr, action string) Job {
	return Job{
		ID:      uuid.NewString(),
		Name:    name,
		Expr:    expr,
		Action:  action,
		Enabled: true,
	}
}

// parser accepts six-field specs (seconds first) and descriptors like @every 5m.
var parser = rcron.NewParser(
	rcron.Second | rcron.Minute | rcron.Hour | rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor,
)

// Validate parses expr with the scheduler's parser.
func Validate(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

type Service struct {
	mu       sync.Mutex
	jobs     []Job
	OnJob    func(ctx context.Context, job Job) (string, error)
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID // job ID -> cron entry ID
	runCtx   context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
}

func NewService() *Service {
	return &Service{
		cron:     rcron.New(rcron.WithParser(parser)),
		entryMap: make(map[string]rcron.EntryID),
		runCtx:   context.Background(),
	}
}

func (s *Service) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	stopCh := make(chan struct{})
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.stopCh = stopCh
	n := len(s.entryMap)
	s.mu.Unlock()

	s.cron.Start()
	log.Printf("[cron] started with %d jobs", n)

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-stopCh:
			return
		}
	}()

	return nil
}

// registerJob must be called with s.mu held.
func (s *Service) registerJob(job *Job) error {
	sched, err := parser.Parse(job.Expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", job.Expr, err)
	}
	jobID := job.ID
	s.entryMap[jobID] = s.cron.Schedule(sched, rcron.FuncJob(func() {
		s.runByID(jobID)
	}))
	return nil
}

func (s *Service) unregisterJob(id string) {
	if entryID, ok := s.entryMap[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entryMap, id)
	}
}

func (s *Service) runByID(id string) {
	s.mu.Lock()
	ctx := s.runCtx
	var (
		job   Job
		found bool
	)
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			job, found = s.jobs[i], true
			break
		}
	}
	s.mu.Unlock()
	if found {
		s.executeJob(ctx, job)
	}
}

func (s *Service) executeJob(ctx context.Context, job Job) {
	log.Printf("[cron] executing job %s (%s)", job.Name, job.Action)

	if s.OnJob == nil {
		log.Printf("[cron] no OnJob handler set")
		return
	}

	result, err := s.OnJob(ctx, job)

	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != job.ID {
			continue
		}
		s.jobs[i].State.LastRunAt = time.Now()
		s.jobs[i].State.Runs++
		if err != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = err.Error()
			log.Printf("[cron] job %s error: %v", job.Name, err)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
			log.Printf("[cron] job %s result: %s", job.Name, truncate(result, 100))
		}
		break
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	stopCh := s.stopCh
	s.cancel = nil
	s.stopCh = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		log.Printf("[cron] stop timeout waiting for running jobs")
	}
	log.Printf("[cron] stopped")
}

// AddJob schedules job. A job without an ID gets one.
func (s *Service) AddJob(job Job) (*Job, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if err := Validate(job.Expr); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.jobs {
		if existing.ID == job.ID {
			return nil, fmt.Errorf("job %s already exists", job.ID)
		}
	}
	s.jobs = append(s.jobs, job)
	if job.Enabled {
		if err := s.registerJob(&s.jobs[len(s.jobs)-1]); err != nil {
			s.jobs = s.jobs[:len(s.jobs)-1]
			return nil, err
		}
	}
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.unregisterJob(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	result := make([]Job, len(s.jobs))
	copy(result, s.jobs)
	return result
}

func (s *Service) EnableJob(id string, enabled bool) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.jobs {
		if s.jobs[i].ID != id {
			continue
		}
		s.jobs[i].Enabled = enabled
		if enabled {
			if _, ok := s.entryMap[id]; !ok {
				if err := s.registerJob(&s.jobs[i]); err != nil {
					return nil, err
				}
			}
		} else {
			s.unregisterJob(id)
		}
		job := s.jobs[i]
		return &job, nil
	}
	return nil, fmt.Errorf("job %s not found", id)
}

// RunNow executes the job immediately, outside its schedule.
func (s *Service) RunNow(ctx context.Context, id string) error {
	s.mu.Lock()
	var (
		job   Job
		found bool
	)
	for i := range s.jobs {
		if s.jobs[i].ID == id {
			job, found = s.jobs[i], true
			break
		}
	}
	s.mu.Unlock()
	if !found {
		return fmt.Errorf("job %s not found", id)
	}
	s.executeJob(ctx, job)
	return nil
}

// NextRun reports when the job fires next; zero if it is not scheduled.
func (s *Service) NextRun(id string) time.Time {
	s.mu.Lock()
	entryID, ok := s.entryMap[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(entryID).Next
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
