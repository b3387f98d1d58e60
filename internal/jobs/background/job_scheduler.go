package background

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"labstock/internal/logger"
	"labstock/internal/services"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job names.
const (
	TreeRefreshJob  = "tree-refresh"
	OrphanReportJob = "orphan-items-report"
)

// Intervals configures how often each job runs.
type Intervals struct {
	TreeRefresh  time.Duration
	OrphanReport time.Duration
}

// JobScheduler runs the periodic catalog maintenance jobs.
type JobScheduler struct {
	scheduler gocron.Scheduler
	catalogs  []*services.CatalogServices
	intervals Intervals
	jobs      map[string]gocron.Job
	mu        sync.RWMutex
	log       *zap.SugaredLogger
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler(catalogs []*services.CatalogServices, intervals Intervals) (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	js := &JobScheduler{
		scheduler: scheduler,
		catalogs:  catalogs,
		intervals: intervals,
		jobs:      make(map[string]gocron.Job),
		log:       logger.Named("jobs"),
	}

	if err := js.registerJobs(); err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}
	return js, nil
}

// Start starts the job scheduler
func (js *JobScheduler) Start() {
	js.log.Infow("Starting background job scheduler", "jobs", len(js.jobs))
	js.scheduler.Start()
}

// Stop stops the job scheduler and waits for running jobs.
func (js *JobScheduler) Stop() error {
	js.log.Info("Stopping background job scheduler")
	return js.scheduler.Shutdown()
}

func (js *JobScheduler) registerJobs() error {
	if err := js.addJob(TreeRefreshJob, js.intervals.TreeRefresh, js.refreshTrees); err != nil {
		return err
	}
	return js.addJob(OrphanReportJob, js.intervals.OrphanReport, js.reportOrphans)
}

func (js *JobScheduler) addJob(name string, interval time.Duration, task func(ctx context.Context) error) error {
	js.mu.Lock()
	defer js.mu.Unlock()

	job, err := js.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(task, context.Background()),
		gocron.WithName(name),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("failed to create %s job: %w", name, err)
	}
	js.jobs[name] = job
	return nil
}

// refreshTrees reloads the canonical tree of every idle editor session so
// saves made by other instances show up.
func (js *JobScheduler) refreshTrees(ctx context.Context) error {
	var failed int
	for _, cs := range js.catalogs {
		reloaded, err := cs.Editor.ReloadCanonical(ctx)
		if err != nil {
			failed++
			js.log.Warnw("Tree refresh failed, keeping current tree", "catalog", cs.Catalog.Name, "error", err)
			continue
		}
		if reloaded {
			js.log.Debugw("Tree refreshed", "catalog", cs.Catalog.Name)
		}
	}
	if failed > 0 {
		return fmt.Errorf("tree refresh failed for %d catalogs", failed)
	}
	return nil
}

// reportOrphans logs how many items reference no existing subcategory.
func (js *JobScheduler) reportOrphans(ctx context.Context) error {
	_, err := js.orphanCounts(ctx)
	return err
}

func (js *JobScheduler) orphanCounts(ctx context.Context) (map[string]int, error) {
	counts := make(map[string]int, len(js.catalogs))
	var firstErr error
	for _, cs := range js.catalogs {
		orphans, err := cs.Items.OrphanedItems(ctx, cs.Editor.Canonical())
		if err != nil {
			js.log.Warnw("Orphan report failed", "catalog", cs.Catalog.Name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		counts[cs.Catalog.Name] = len(orphans)
		if len(orphans) > 0 {
			js.log.Warnw("Items reference missing subcategories", "catalog", cs.Catalog.Name, "count", len(orphans))
		}
	}
	return counts, firstErr
}

// GetJobStatus returns information about scheduled jobs
func (js *JobScheduler) GetJobStatus() map[string]interface{} {
	js.mu.RLock()
	defer js.mu.RUnlock()

	names := make([]string, 0, len(js.jobs))
	for name := range js.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	return map[string]interface{}{
		"total_jobs": len(js.jobs),
		"jobs":       names,
	}
}
