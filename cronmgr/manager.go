package cronmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	crondescriptor "github.com/lnquy/cron"
	rcron "github.com/robfig/cron/v3"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobRunning  = errors.New("job is already running")
)

// JobFunc is the work a maintenance job performs on each run.
type JobFunc func(ctx context.Context) error

// Job is a scheduled maintenance task and the outcome of its last run.
type Job struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Schedule     string         `json:"schedule"`
	ScheduleDesc string         `json:"scheduleDesc,omitempty"`
	Running      bool           `json:"running"`
	LastRun      *time.Time     `json:"lastRun,omitempty"`
	LastDuration string         `json:"lastDuration,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	NextRun      *time.Time     `json:"nextRun,omitempty"`
	CronEntryID  *rcron.EntryID `json:"-"`
	run          JobFunc
}

// CronManager runs the service's maintenance jobs on cron schedules.
type CronManager struct {
	cron           *rcron.Cron
	jobs           map[string]*Job
	cronDescriptor *crondescriptor.ExpressionDescriptor
	mu             sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewCronManager() (*CronManager, error) {
	descriptor, err := crondescriptor.NewDescriptor()
	if err != nil {
		return nil, fmt.Errorf("create cron descriptor: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CronManager{
		cron:           rcron.New(rcron.WithSeconds()),
		jobs:           make(map[string]*Job),
		cronDescriptor: descriptor,
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

func (cm *CronManager) Start() {
	cm.cron.Start()
	cm.refreshNextRuns()
}

// Stop halts the scheduler, cancels running jobs and waits for them.
func (cm *CronManager) Stop() {
	<-cm.cron.Stop().Done()
	cm.cancel()
	cm.wg.Wait()
}

// AddJob schedules fn under id. The schedule uses the seconds-first format.
func (cm *CronManager) AddJob(id, name, schedule string, fn JobFunc) error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.jobs[id]; exists {
		return fmt.Errorf("job %s already registered", id)
	}

	job := &Job{ID: id, Name: name, Schedule: schedule, run: fn}

	// Generate human-readable description of the cron schedule
	description, err := cm.cronDescriptor.ToDescription(schedule, crondescriptor.Locale_en)
	if err != nil {
		slog.Warn("Could not generate schedule description", "schedule", schedule, "error", err)
		job.ScheduleDesc = schedule
	} else {
		job.ScheduleDesc = description
	}

	entryID, err := cm.cron.AddFunc(schedule, func() {
		if err := cm.executeJob(id); err != nil && !errors.Is(err, ErrJobRunning) {
			slog.Error("Job execution failed", "job", name, "id", id, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job: %w", err)
	}
	job.CronEntryID = &entryID
	cm.jobs[id] = job

	slog.Info("Job scheduled", "job", name, "id", id, "schedule", schedule, "description", job.ScheduleDesc)
	return nil
}

// RunNow executes a job immediately and returns its error.
func (cm *CronManager) RunNow(id string) error {
	return cm.executeJob(id)
}

func (cm *CronManager) executeJob(id string) error {
	cm.mu.Lock()
	job, exists := cm.jobs[id]
	if !exists {
		cm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	if job.Running {
		cm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, id)
	}
	job.Running = true
	name, fn := job.Name, job.run
	cm.wg.Add(1)
	cm.mu.Unlock()
	defer cm.wg.Done()

	slog.Info("Executing job", "job", name, "id", id)
	start := time.Now()

	// Execute job outside of lock to avoid blocking other operations
	err := fn(cm.ctx)
	if err != nil {
		slog.Warn("Job finished with error", "job", name, "id", id, "error", err)
	} else {
		slog.Info("Job executed successfully", "job", name, "id", id, "duration", time.Since(start))
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	job.Running = false
	job.LastRun = &start
	job.LastDuration = time.Since(start).String()
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	cm.setNextRun(job)
	return err
}

func (cm *CronManager) refreshNextRuns() {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	for _, job := range cm.jobs {
		cm.setNextRun(job)
	}
}

func (cm *CronManager) setNextRun(job *Job) {
	if job.CronEntryID == nil {
		return
	}
	entry := cm.cron.Entry(*job.CronEntryID)
	if entry.Next.IsZero() {
		return
	}
	nextRun := entry.Next
	job.NextRun = &nextRun
}

func (cm *CronManager) GetJob(id string) (Job, error) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	job, exists := cm.jobs[id]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// GetAllJobs returns copies of all jobs, most recently run first.
func (cm *CronManager) GetAllJobs() []Job {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	jobs := make([]Job, 0, len(cm.jobs))
	for _, job := range cm.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		a := jobs[i].LastRun
		b := jobs[j].LastRun
		// Treat nil LastRun as older than any non-nil LastRun
		if a == nil && b == nil {
			return jobs[i].Name < jobs[j].Name
		}
		if a == nil {
			return false
		}
		if b == nil {
			return true
		}
		return a.After(*b)
	})
	return jobs
}
