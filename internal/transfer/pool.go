// Package transfer moves chunk objects to and from the blob store through a
// fixed pool of workers. The task queue is bounded so producers feel
// backpressure instead of buffering every pending upload in memory.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/dmitrijs2005/chunkvault/internal/blob"
	"github.com/dmitrijs2005/chunkvault/internal/common"
	"github.com/dmitrijs2005/chunkvault/internal/logging"
)

type opKind int

const (
	opUpload opKind = iota
	opDownload
)

type task struct {
	ctx  context.Context
	kind opKind
	key  string
	data []byte

	errc  chan error
	datac chan []byte
}

// Options tunes a Pool. Zero fields fall back to the listed defaults.
type Options struct {
	Workers     int           // default 4
	QueueSize   int           // default 16
	MaxAttempts int           // default 5, counts the first try
	BackoffBase time.Duration // default 100ms
}

func (o *Options) withDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 16
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = 100 * time.Millisecond
	}
}

// Pool is safe for concurrent use between Start and Stop.
type Pool struct {
	store  blob.Store
	logger logging.Logger
	opts   Options

	tasks chan task
	wg    sync.WaitGroup
}

func NewPool(store blob.Store, logger logging.Logger, opts Options) *Pool {
	opts.withDefaults()
	return &Pool{
		store:  store,
		logger: logger,
		opts:   opts,
		tasks:  make(chan task, opts.QueueSize),
	}
}

// Start launches the workers. Call Stop to drain and shut them down.
func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for t := range p.tasks {
				p.run(t)
			}
		}()
	}
}

// Stop waits for every enqueued task to finish. No Upload or Download may be
// issued after Stop.
func (p *Pool) Stop() {
	close(p.tasks)
	p.wg.Wait()
}

// Upload enqueues the object and returns a channel that receives the final
// result exactly once. Enqueueing blocks while the queue is full.
func (p *Pool) Upload(ctx context.Context, key string, data []byte) <-chan error {
	errc := make(chan error, 1)
	t := task{ctx: ctx, kind: opUpload, key: key, data: data, errc: errc}
	select {
	case p.tasks <- t:
	case <-ctx.Done():
		errc <- ctx.Err()
	}
	return errc
}

// Download fetches the object through the pool and blocks until it is done.
func (p *Pool) Download(ctx context.Context, key string) ([]byte, error) {
	errc := make(chan error, 1)
	datac := make(chan []byte, 1)
	t := task{ctx: ctx, kind: opDownload, key: key, errc: errc, datac: datac}
	select {
	case p.tasks <- t:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case err := <-errc:
		return nil, err
	case data := <-datac:
		return data, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *Pool) run(t task) {
	var data []byte
	err := p.withRetry(t.ctx, t.key, func(ctx context.Context) error {
		switch t.kind {
		case opUpload:
			return p.store.Put(ctx, t.key, t.data)
		default:
			var err error
			data, err = p.store.Get(ctx, t.key)
			return err
		}
	})
	if err != nil {
		t.errc <- err
		return
	}
	if t.kind == opDownload {
		t.datac <- data
		return
	}
	t.errc <- nil
}

// withRetry retries transient failures with capped exponential backoff.
// Permanent failures (missing objects, rejected credentials, anything
// already classified) surface immediately with the object key attached.
func (p *Pool) withRetry(ctx context.Context, key string, f func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(p.opts.MaxAttempts-1), retry.NewExponential(p.opts.BackoffBase))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := f(ctx)
		if err == nil {
			return nil
		}
		if isPermanent(err) {
			return fmt.Errorf("%w: %s: %w", common.ErrPermanentTransfer, key, err)
		}
		p.logger.Warn(ctx, "transfer attempt failed, will retry", "key", key, "error", err)
		return retry.RetryableError(fmt.Errorf("%w: %s: %w", common.ErrTransientTransfer, key, err))
	})
	if err != nil {
		return fmt.Errorf("transfer failed: %w", err)
	}
	return nil
}

func isPermanent(err error) bool {
	return errors.Is(err, common.ErrObjectNotFound) ||
		errors.Is(err, common.ErrPermanentTransfer) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
