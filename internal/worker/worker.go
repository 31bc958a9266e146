package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/slok/webq/internal/answer"
	"github.com/slok/webq/internal/fetch"
	"github.com/slok/webq/internal/log"
	"github.com/slok/webq/internal/model"
	"github.com/slok/webq/internal/queue"
	"github.com/slok/webq/internal/storage"
)

const (
	// DefaultWorkers caps simultaneous browser rendering + inference
	// pipelines. Browser processes are memory and CPU heavy.
	DefaultWorkers = 2
	// DefaultPollInterval is how often an idle worker checks for jobs.
	DefaultPollInterval = 250 * time.Millisecond

	markFailedTries     = 3
	markFailedRetryWait = 100 * time.Millisecond
)

// PoolConfig is the configuration for the worker pool.
type PoolConfig struct {
	Queue        queue.Queue
	Repository   storage.TaskRepository
	Fetcher      fetch.Fetcher
	Generator    answer.Generator
	Workers      int
	PollInterval time.Duration
	Logger       log.Logger
}

func (c *PoolConfig) defaults() error {
	if c.Queue == nil {
		return fmt.Errorf("queue is required")
	}
	if c.Repository == nil {
		return fmt.Errorf("repository is required")
	}
	if c.Fetcher == nil {
		return fmt.Errorf("fetcher is required")
	}
	if c.Generator == nil {
		return fmt.Errorf("generator is required")
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.PollInterval == 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "worker.Pool"})
	return nil
}

// Pool runs a fixed number of workers that lease jobs from the queue, drive
// the fetch -> generate pipeline and keep the task state in sync with the
// job outcome.
type Pool struct {
	cfg    PoolConfig
	logger log.Logger
}

// NewPool creates a new worker pool.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Pool{
		cfg:    cfg,
		logger: cfg.Logger,
	}, nil
}

// Run blocks processing jobs until the context is canceled, then waits for
// in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Infof("Starting %d workers", p.cfg.Workers)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, fmt.Sprintf("worker-%d", id))
		}(i)
	}
	wg.Wait()

	p.logger.Infof("All workers stopped")
	return nil
}

func (p *Pool) runWorker(ctx context.Context, id string) {
	logger := p.logger.WithValues(log.Kv{"worker": id})
	logger.Debugf("Worker started")

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Debugf("Worker stopping")
			return
		case <-ticker.C:
		}

		// Drain available jobs before going back to sleep.
		for ctx.Err() == nil {
			job, err := p.cfg.Queue.Dequeue(ctx)
			if err != nil {
				logger.Errorf("Could not dequeue job: %s", err)
				break
			}
			if job == nil {
				break
			}

			p.process(ctx, logger, job)
		}
	}
}

// process runs one delivery of a job and synchronizes the task with the
// queue outcome: ack on success, nack on failure, and a failed task once the
// queue gives up on the job.
func (p *Pool) process(ctx context.Context, logger log.Logger, job *model.Job) {
	logger = logger.WithValues(log.Kv{"job": job.ID, "task": job.TaskID, "attempt": job.Attempts})
	logger.Infof("Processing job")
	start := time.Now()

	err := p.runPipeline(ctx, job)
	if err == nil {
		if err := p.cfg.Queue.Ack(ctx, job.ID); err != nil {
			logger.Errorf("Could not ack job: %s", err)
			return
		}
		logger.Infof("Job completed in %v", time.Since(start))
		return
	}

	// A rejected transition means the task already reached a terminal state,
	// e.g. a lease expired after another delivery finished the work. The
	// redelivery is stale, consume it.
	if errors.Is(err, model.ErrNotValid) {
		logger.Warningf("Stale delivery for terminal task, acking job: %s", err)
		if err := p.cfg.Queue.Ack(ctx, job.ID); err != nil {
			logger.Errorf("Could not ack stale job: %s", err)
		}
		return
	}

	retrying, nackErr := p.cfg.Queue.Nack(ctx, job.ID, err)
	if nackErr != nil {
		logger.Errorf("Could not nack job: %s", nackErr)
		return
	}

	if retrying {
		logger.Warningf("Job failed in %v, will retry: %s", time.Since(start), err)
		return
	}

	// Final attempt failed: the task must reach failed so it never stays in
	// processing once its job is archived. The job is already gone from the
	// queue at this point, so retry the write instead of giving up on a
	// transient store error.
	var markErr error
	for i := 0; i < markFailedTries; i++ {
		if markErr = p.cfg.Repository.MarkTaskFailed(ctx, job.TaskID, err.Error()); markErr == nil {
			break
		}
		time.Sleep(markFailedRetryWait)
	}
	if markErr != nil {
		logger.Errorf("Could not mark task failed after %d tries: %s", markFailedTries, markErr)
	}
	logger.Errorf("Job failed permanently after %d attempts: %s", job.Attempts, err)
}

// runPipeline executes one attempt: mark processing, fetch, generate, mark
// completed. Panics are turned into errors so an unexpected failure still
// drives the task to a terminal state.
func (p *Pool) runPipeline(ctx context.Context, job *model.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic processing job: %v", r)
		}
	}()

	if err := p.cfg.Repository.MarkTaskProcessing(ctx, job.TaskID, job.Attempts); err != nil {
		return fmt.Errorf("could not mark task processing: %w", err)
	}

	content, err := p.cfg.Fetcher.Fetch(ctx, job.URL)
	if err != nil {
		return err
	}

	result, err := p.cfg.Generator.Answer(ctx, content, job.Question)
	if err != nil {
		return err
	}

	if err := p.cfg.Repository.MarkTaskCompleted(ctx, job.TaskID, result); err != nil {
		return fmt.Errorf("could not mark task completed: %w", err)
	}

	return nil
}
