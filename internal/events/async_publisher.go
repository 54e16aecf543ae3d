package events

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"wallet_ledger/internal/custom_err"
	"wallet_ledger/internal/metrics"
)

var _ Publisher = (*AsyncPublisher)(nil)

var (
	ErrQueueFull       = errors.New("очередь событий переполнена")
	ErrPublisherClosed = errors.New("публикатор событий остановлен")
)

type AsyncOptions struct {
	QueueSize      int
	Workers        int
	MaxAttempts    int
	BaseBackoff    time.Duration
	PublishTimeout time.Duration
}

func DefaultAsyncOptions() AsyncOptions {
	return AsyncOptions{
		QueueSize:      10000,
		Workers:        2,
		MaxAttempts:    3,
		BaseBackoff:    time.Second,
		PublishTimeout: 5 * time.Second,
	}
}

type Stats struct {
	Published int64
	Failed    int64
	Retries   int64
}

type retryItem struct {
	event    LedgerEvent
	attempts int
}

// AsyncPublisher отвязывает проводки от доступности брокера: Publish только
// ставит событие в очередь, отправку и повторы с backoff делают воркеры.
type AsyncPublisher struct {
	next Publisher
	log  *slog.Logger
	opts AsyncOptions

	mu         sync.RWMutex
	closed     bool
	queue      chan LedgerEvent
	retryQueue chan retryItem
	done       chan struct{}
	workers    sync.WaitGroup
	retries    sync.WaitGroup

	published atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
}

func NewAsyncPublisher(next Publisher, log *slog.Logger, opts AsyncOptions) *AsyncPublisher {
	p := &AsyncPublisher{
		next:       next,
		log:        log,
		opts:       opts,
		queue:      make(chan LedgerEvent, opts.QueueSize),
		retryQueue: make(chan retryItem, opts.QueueSize),
		done:       make(chan struct{}),
	}

	for i := 0; i < opts.Workers; i++ {
		p.workers.Add(1)
		go p.worker(i)
	}
	p.retries.Add(1)
	go p.retryWorker()

	return p
}

func (p *AsyncPublisher) Publish(ctx context.Context, event LedgerEvent) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}

	select {
	case p.queue <- event:
		metrics.EventQueueDepth.Set(float64(len(p.queue)))
		return nil
	default:
		p.failed.Add(1)
		metrics.EventPublishFailures.Inc()
		return ErrQueueFull
	}
}

func (p *AsyncPublisher) send(event LedgerEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.opts.PublishTimeout)
	defer cancel()
	return p.next.Publish(ctx, event)
}

func (p *AsyncPublisher) worker(workerID int) {
	defer p.workers.Done()

	for event := range p.queue {
		metrics.EventQueueDepth.Set(float64(len(p.queue)))

		if err := p.send(event); err != nil {
			p.log.Warn("ошибка публикации события, ставим в очередь повторов",
				slog.Int("worker", workerID),
				slog.String("type", string(event.Type)),
				slog.String("reference", event.Reference),
				slog.String("error", err.Error()),
			)
			p.enqueueRetry(retryItem{event: event, attempts: 1})
			continue
		}
		p.published.Add(1)
	}
}

func (p *AsyncPublisher) enqueueRetry(item retryItem) {
	select {
	case p.retryQueue <- item:
		p.retried.Add(1)
	default:
		p.drop(item, "очередь повторов переполнена")
	}
}

func (p *AsyncPublisher) drop(item retryItem, reason string) {
	p.failed.Add(1)
	metrics.EventPublishFailures.Inc()
	p.log.Error("событие отброшено",
		slog.String("reason", reason),
		slog.String("type", string(item.event.Type)),
		slog.String("reference", item.event.Reference),
		slog.Int("attempts", item.attempts),
	)
}

func (p *AsyncPublisher) retryWorker() {
	defer p.retries.Done()

	for {
		select {
		case <-p.done:
			p.logAbandoned(0)
			return
		case item := <-p.retryQueue:
			if item.attempts >= p.opts.MaxAttempts {
				p.drop(item, custom_err.ErrMaxRetriesExceeded.Error())
				continue
			}

			backoff := p.opts.BaseBackoff * time.Duration(1<<item.attempts)
			select {
			case <-time.After(backoff):
			case <-p.done:
				p.logAbandoned(1)
				return
			}

			if err := p.send(item.event); err != nil {
				item.attempts++
				p.enqueueRetry(item)
				continue
			}
			p.published.Add(1)
		}
	}
}

func (p *AsyncPublisher) logAbandoned(inFlight int) {
	if pending := len(p.retryQueue) + inFlight; pending > 0 {
		p.failed.Add(int64(pending))
		p.log.Warn("остановка: события из очереди повторов не отправлены", slog.Int("count", pending))
	}
}

func (p *AsyncPublisher) Stats() Stats {
	return Stats{
		Published: p.published.Load(),
		Failed:    p.failed.Load(),
		Retries:   p.retried.Load(),
	}
}

// Close дожидается отправки уже принятых событий, затем закрывает брокер.
func (p *AsyncPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.workers.Wait()
	close(p.done)
	p.retries.Wait()

	return p.next.Close()
}
