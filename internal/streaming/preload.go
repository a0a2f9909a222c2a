package streaming

import (
	"context"
	"log/slog"
	"sync"

	"musicy-stream/internal/platform/metrics"
)

// PreloadResult is the outcome of a preload request.
type PreloadResult struct {
	Cached  bool
	Success bool
}

type preloadJob struct {
	id   ContentID
	done chan struct{}
	err  error
}

// Preloader warms the URL cache through a fixed pool of workers fed by a
// bounded queue. Requests for an id that is already queued share its job.
type Preloader struct {
	resolver *Resolver
	workers  int
	queue    chan *preloadJob
	log      *slog.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	pending map[ContentID]*preloadJob
	stopped bool
}

// NewPreloader returns a Preloader with the given pool and queue sizes.
// Jobs are processed only while Run is active.
func NewPreloader(resolver *Resolver, workers, queueSize int, log *slog.Logger, m *metrics.Metrics) *Preloader {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	return &Preloader{
		resolver: resolver,
		workers:  workers,
		queue:    make(chan *preloadJob, queueSize),
		log:      log,
		metrics:  m,
		pending:  make(map[ContentID]*preloadJob),
	}
}

// Run processes jobs until ctx ends. Jobs still queued at that point fail with
// ErrPreloaderStopped.
func (p *Preloader) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for range p.workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.work(ctx)
		}()
	}
	wg.Wait()

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	for {
		select {
		case job := <-p.queue:
			p.finish(job, ErrPreloaderStopped)
		default:
			return nil
		}
	}
}

// Preload warms id and waits for the outcome. An id that is already cached
// returns Cached without resolving.
func (p *Preloader) Preload(ctx context.Context, id ContentID) (PreloadResult, error) {
	if _, ok := p.resolver.Cached(id); ok {
		p.metrics.IncPreloadJob("cached")
		return PreloadResult{Cached: true}, nil
	}

	job, err := p.submit(id)
	if err != nil {
		return PreloadResult{}, err
	}
	select {
	case <-job.done:
		return PreloadResult{Success: job.err == nil}, nil
	case <-ctx.Done():
		return PreloadResult{}, ctx.Err()
	}
}

// Enqueue schedules id without waiting. cached is true when nothing had to be done.
func (p *Preloader) Enqueue(id ContentID) (cached bool, err error) {
	if _, ok := p.resolver.Cached(id); ok {
		p.metrics.IncPreloadJob("cached")
		return true, nil
	}
	_, err = p.submit(id)
	return false, err
}

// QueueDepth returns the number of jobs waiting for a worker.
func (p *Preloader) QueueDepth() int {
	return len(p.queue)
}

func (p *Preloader) submit(id ContentID) (*preloadJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return nil, ErrPreloaderStopped
	}
	if job, ok := p.pending[id]; ok {
		return job, nil
	}

	job := &preloadJob{id: id, done: make(chan struct{})}
	select {
	case p.queue <- job:
	default:
		p.metrics.IncPreloadJob("rejected")
		return nil, ErrQueueFull
	}
	p.pending[id] = job
	p.metrics.SetPreloadQueueDepth(len(p.queue))
	return job, nil
}

func (p *Preloader) work(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			p.metrics.SetPreloadQueueDepth(len(p.queue))
			_, _, err := p.resolver.Resolve(ctx, job.id)
			if err != nil {
				p.log.Debug("preload failed",
					slog.String("content_id", string(job.id)),
					slog.String("error", err.Error()))
			}
			p.finish(job, err)
		}
	}
}

func (p *Preloader) finish(job *preloadJob, err error) {
	p.mu.Lock()
	delete(p.pending, job.id)
	p.mu.Unlock()

	job.err = err
	close(job.done)
	if err != nil {
		p.metrics.IncPreloadJob("failure")
		return
	}
	p.metrics.IncPreloadJob("success")
}
