package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dacbuione/chinese-learning-sub000/internal/ttypes"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned when operations are attempted on a closed queue
	ErrQueueClosed = errors.New("queue is closed")
)

// Handler resolves one queued request, normally by synthesizing it into the
// cache.
type Handler func(ctx context.Context, req ttypes.SynthesisRequest) error

// Config controls a Prefetcher.
type Config struct {
	MaxSize int // queued requests before Enqueue blocks (default 64)
	Workers int // concurrent handler calls (default 2)
}

// Prefetcher feeds synthesis requests to a bounded worker pool so upcoming
// lesson phrases are in the cache before they are spoken. Priority items
// (the phrase on screen) are handled before regular items (the rest of the
// lesson), each group in FIFO order.
type Prefetcher struct {
	handler Handler
	maxSize int
	workers int
	logger  *log.Logger

	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	idle     *sync.Cond

	priority *priorityQueue
	regular  []ttypes.SynthesisRequest
	seq      int64
	inFlight int
	closed   bool
	stats    Stats

	group   *errgroup.Group
	started bool
}

// Stats tracks queue throughput.
type Stats struct {
	Enqueued     int64
	HighPriority int64
	Completed    int64
	Failed       int64
	Dropped      int64 // discarded by Clear or Close
	Pending      int
	PeakSize     int
	LastError    error
	LastDone     time.Time
}

// New creates a prefetcher. Call Start to begin processing.
func New(handler Handler, config Config, logger *log.Logger) *Prefetcher {
	if config.MaxSize <= 0 {
		config.MaxSize = 64
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if logger == nil {
		logger = log.WithPrefix("queue")
	}

	q := &Prefetcher{
		handler:  handler,
		maxSize:  config.MaxSize,
		workers:  config.Workers,
		logger:   logger,
		priority: &priorityQueue{},
	}
	heap.Init(q.priority)
	q.notEmpty = sync.NewCond(&q.mu)
	q.notFull = sync.NewCond(&q.mu)
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Start launches the workers. They stop when ctx is cancelled or the queue
// is closed; cancellation also closes the queue.
func (q *Prefetcher) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	g := &errgroup.Group{}
	for i := 0; i < q.workers; i++ {
		g.Go(func() error {
			q.work(ctx)
			return nil
		})
	}
	q.group = g

	go func() {
		<-ctx.Done()
		_ = q.Close()
	}()
}

func (q *Prefetcher) work(ctx context.Context) {
	for {
		req, err := q.dequeue()
		if err != nil {
			return
		}

		err = q.handler(ctx, req)

		q.mu.Lock()
		q.inFlight--
		q.stats.LastDone = time.Now()
		if err != nil {
			q.stats.Failed++
			q.stats.LastError = err
		} else {
			q.stats.Completed++
		}
		if q.size() == 0 && q.inFlight == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()

		if err != nil && ctx.Err() == nil {
			q.logger.Warn("Prefetch failed", "text", req.Text, "err", err)
		}
	}
}

// Enqueue adds a request, blocking while the queue is full.
func (q *Prefetcher) Enqueue(req ttypes.SynthesisRequest, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() >= q.maxSize && !q.closed {
		q.notFull.Wait()
	}
	if q.closed {
		return ErrQueueClosed
	}

	q.push(req, priority)
	return nil
}

// TryEnqueue adds a request or returns ErrQueueFull without blocking.
func (q *Prefetcher) TryEnqueue(req ttypes.SynthesisRequest, priority bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.size() >= q.maxSize {
		return ErrQueueFull
	}
	q.push(req, priority)
	return nil
}

// EnqueueBatch adds as many requests as fit and returns how many were
// accepted. ErrQueueFull is returned when none fit.
func (q *Prefetcher) EnqueueBatch(reqs []ttypes.SynthesisRequest, priority bool) (int, error) {
	if len(reqs) == 0 {
		return 0, nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return 0, ErrQueueClosed
	}

	space := q.maxSize - q.size()
	if space <= 0 {
		return 0, ErrQueueFull
	}
	if len(reqs) > space {
		reqs = reqs[:space]
	}
	for _, r := range reqs {
		q.push(r, priority)
	}
	return len(reqs), nil
}

func (q *Prefetcher) push(req ttypes.SynthesisRequest, priority bool) {
	if priority {
		q.seq++
		heap.Push(q.priority, &queueItem{req: req, seq: q.seq})
		q.stats.HighPriority++
	} else {
		q.regular = append(q.regular, req)
	}
	q.stats.Enqueued++
	if n := q.size(); n > q.stats.PeakSize {
		q.stats.PeakSize = n
	}
	q.notEmpty.Signal()
}

// dequeue blocks until a request is available or the queue closes.
func (q *Prefetcher) dequeue() (ttypes.SynthesisRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.size() == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if q.closed {
		return ttypes.SynthesisRequest{}, ErrQueueClosed
	}

	var req ttypes.SynthesisRequest
	if q.priority.Len() > 0 {
		req = heap.Pop(q.priority).(*queueItem).req
	} else {
		req = q.regular[0]
		q.regular[0] = ttypes.SynthesisRequest{}
		q.regular = q.regular[1:]
	}
	q.inFlight++
	q.notFull.Signal()
	return req, nil
}

func (q *Prefetcher) size() int {
	return q.priority.Len() + len(q.regular)
}

// Size returns the number of queued requests, excluding ones being handled.
func (q *Prefetcher) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size()
}

// Wait blocks until the queue is empty and no handler is running, or ctx
// is done.
func (q *Prefetcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		q.mu.Lock()
		for (q.size() > 0 || q.inFlight > 0) && !q.closed {
			q.idle.Wait()
		}
		q.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// wake the waiter so it can observe closed or exit on the next signal
		q.mu.Lock()
		q.idle.Broadcast()
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Clear drops every queued request. Running handlers are not interrupted.
func (q *Prefetcher) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.Dropped += int64(q.size())
	q.priority = &priorityQueue{}
	heap.Init(q.priority)
	q.regular = nil
	q.notFull.Broadcast()
	if q.inFlight == 0 {
		q.idle.Broadcast()
	}
}

// Stats returns current queue statistics.
func (q *Prefetcher) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Pending = q.size()
	return s
}

// Close stops accepting requests, drops the queued ones and waits for
// running handlers to return.
func (q *Prefetcher) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.stats.Dropped += int64(q.size())
	q.priority = &priorityQueue{}
	q.regular = nil

	q.notEmpty.Broadcast()
	q.notFull.Broadcast()
	q.idle.Broadcast()
	g := q.group
	q.mu.Unlock()

	if g != nil {
		return g.Wait()
	}
	return nil
}

// Priority items are a min-heap on arrival order.
type queueItem struct {
	req   ttypes.SynthesisRequest
	seq   int64
	index int
}

type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	return pq[i].seq < pq[j].seq
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil  // Avoid memory leak
	item.index = -1 // For safety
	*pq = old[0 : n-1]
	return item
}
