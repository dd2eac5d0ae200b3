package firelite

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
	"github.com/firelite/firelite.go/pkg/logger"
)

const (
	// bulkMaxBatchSize is the most writes one batchWrite call may carry.
	bulkMaxBatchSize = 20
	// bulkMaxAttempts caps the sends of a single operation.
	bulkMaxAttempts = 10
)

// statusNameFromCode maps canonical rpc status codes, as they appear in
// batch-write item statuses, to their names.
func statusNameFromCode(code int) string {
	switch code {
	case 3:
		return constants.StatusInvalidArgument
	case 4:
		return constants.StatusDeadlineExceeded
	case 5:
		return constants.StatusNotFound
	case 6:
		return constants.StatusAlreadyExists
	case 7:
		return constants.StatusPermissionDenied
	case 8:
		return constants.StatusResourceExhausted
	case 9:
		return constants.StatusFailedPrecondition
	case 10:
		return constants.StatusAborted
	case 13:
		return constants.StatusInternal
	case 14:
		return constants.StatusUnavailable
	case 16:
		return constants.StatusUnauthenticated
	}
	return constants.StatusUnknown
}

// A BulkWriterJob tracks one enqueued operation. Results blocks until the
// operation has finally succeeded or failed.
type BulkWriterJob struct {
	ref *DocumentRef
	op  string
	w   codec.Write

	seq      int64
	attempts int
	readyAt  time.Time

	done   chan struct{}
	result *WriteResult
	err    error
}

// Results blocks until the job settles.
func (j *BulkWriterJob) Results() (*WriteResult, error) {
	<-j.done
	return j.result, j.err
}

// A BulkWriter queues writes and sends them in the background in batches.
// Writes are independent: one failing does not affect the others. It is
// safe for concurrent use.
type BulkWriter struct {
	c      *Client
	ctx    context.Context
	logger logger.Logger

	// retryable decides whether a failed operation is sent again.
	retryable func(error) bool

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []*BulkWriterJob
	nextSeq  int64
	inFlight bool
	closed   bool
	timer    *time.Timer
}

// BulkWriter returns a writer that batches enqueued operations in the
// background. The context governs the sends.
func (c *Client) BulkWriter(ctx context.Context) *BulkWriter {
	bw := &BulkWriter{
		c:         c,
		ctx:       ctx,
		logger:    c.logger,
		retryable: isRetryableForBulkWriter,
	}
	bw.cond = sync.NewCond(&bw.mu)
	return bw
}

// SetRetry replaces the default retry policy. It must be called before the
// first enqueue.
func (b *BulkWriter) SetRetry(pred func(error) bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if pred != nil {
		b.retryable = pred
	}
}

// Create enqueues a create of ref.
func (b *BulkWriter) Create(ref *DocumentRef, data map[string]any) (*BulkWriterJob, error) {
	return b.enqueue(ref, "create", func() (codec.Write, error) { return ref.newCreateWrite(data) })
}

// Set enqueues a set of ref, optionally merging.
func (b *BulkWriter) Set(ref *DocumentRef, data map[string]any, opts ...SetOption) (*BulkWriterJob, error) {
	return b.enqueue(ref, "set", func() (codec.Write, error) { return ref.newSetWrite(data, opts) })
}

// Update enqueues an update of the named fields of ref.
func (b *BulkWriter) Update(ref *DocumentRef, updates map[string]any, preconds ...Precondition) (*BulkWriterJob, error) {
	return b.enqueue(ref, "update", func() (codec.Write, error) { return ref.newUpdateWrite(updates, preconds) })
}

// Delete enqueues a delete of ref.
func (b *BulkWriter) Delete(ref *DocumentRef, preconds ...Precondition) (*BulkWriterJob, error) {
	return b.enqueue(ref, "delete", func() (codec.Write, error) { return ref.newDeleteWrite(preconds) })
}

func (b *BulkWriter) enqueue(ref *DocumentRef, op string, build func() (codec.Write, error)) (*BulkWriterJob, error) {
	if err := b.c.checkOpen(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, constants.ErrNilDocRef
	}
	w, err := build()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, constants.ErrWriterClosed
	}
	j := &BulkWriterJob{
		ref:  ref,
		op:   op,
		w:    w,
		seq:  b.nextSeq,
		done: make(chan struct{}),
	}
	b.nextSeq++
	b.queue = append(b.queue, j)
	b.kickLocked()
	return j, nil
}

// Flush blocks until every operation enqueued before the call has settled.
func (b *BulkWriter) Flush(ctx context.Context) error {
	b.mu.Lock()
	upTo := b.nextSeq
	b.mu.Unlock()
	return b.waitUpTo(ctx, upTo)
}

// Close flushes the writer and rejects any further enqueues.
func (b *BulkWriter) Close(ctx context.Context) error {
	b.mu.Lock()
	b.closed = true
	upTo := b.nextSeq
	b.mu.Unlock()
	return b.waitUpTo(ctx, upTo)
}

func (b *BulkWriter) waitUpTo(ctx context.Context, upTo int64) error {
	// The condition variable cannot watch the context, so a watcher wakes
	// the waiter when the context ends.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for b.pendingBeforeLocked(upTo) > 0 {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b.cond.Wait()
	}
	return nil
}

func (b *BulkWriter) pendingBeforeLocked(upTo int64) int {
	n := 0
	for _, j := range b.queue {
		if j.seq < upTo {
			n++
		}
	}
	if b.inFlight {
		// In-flight jobs left the queue; they are counted conservatively by
		// the sender holding them until re-queue or completion.
		n++
	}
	return n
}

// kickLocked starts a sender if none is running and work is ready.
func (b *BulkWriter) kickLocked() {
	if b.inFlight || len(b.queue) == 0 {
		return
	}
	now := time.Now()
	batch := b.takeBatchLocked(now)
	if len(batch) == 0 {
		// Everything is backing off, or ready work is held behind a
		// backing-off write to the same document; try again when the
		// earliest job is due.
		earliest := time.Time{}
		for _, j := range b.queue {
			if j.readyAt.After(now) && (earliest.IsZero() || j.readyAt.Before(earliest)) {
				earliest = j.readyAt
			}
		}
		if b.timer != nil {
			b.timer.Stop()
		}
		b.timer = time.AfterFunc(time.Until(earliest), func() {
			b.mu.Lock()
			b.kickLocked()
			b.mu.Unlock()
		})
		return
	}
	b.inFlight = true
	go b.sendBatch(batch)
}

// takeBatchLocked pulls up to bulkMaxBatchSize ready jobs off the queue. Any
// job left behind, whether backing off or over the batch cap, blocks every
// later job on the same document so per-document order holds across sends.
func (b *BulkWriter) takeBatchLocked(now time.Time) []*BulkWriterJob {
	var batch []*BulkWriterJob
	seen := make(map[string]bool)
	rest := b.queue[:0]
	for _, j := range b.queue {
		if len(batch) < bulkMaxBatchSize && !j.readyAt.After(now) && !seen[j.ref.Path] {
			seen[j.ref.Path] = true
			batch = append(batch, j)
			continue
		}
		seen[j.ref.Path] = true
		rest = append(rest, j)
	}
	b.queue = rest
	return batch
}

func (b *BulkWriter) sendBatch(batch []*BulkWriterJob) {
	writes := make([]codec.Write, len(batch))
	for i, j := range batch {
		writes[i] = j.w
		j.attempts++
	}

	resp, err := b.c.conn.BatchWrite(b.ctx, &connection.BatchWriteRequest{Writes: writes})

	var requeue []*BulkWriterJob
	if err != nil {
		// The whole call failed; every job shares its fate.
		for _, j := range batch {
			requeue = b.settleOrRetry(j, nil, err, requeue)
		}
	} else {
		for i, j := range batch {
			var st codec.Status
			if i < len(resp.Status) {
				st = resp.Status[i]
			}
			if st.Code == 0 {
				var wr codec.WriteResult
				if i < len(resp.WriteResults) {
					wr = resp.WriteResults[i]
				}
				res, werr := writeResultFromWire(wr, "")
				if werr != nil {
					j.result, j.err = nil, werr
				} else {
					j.result = res
				}
				close(j.done)
				continue
			}
			name := statusNameFromCode(st.Code)
			itemErr := &APIError{Status: name, Message: st.Message}
			requeue = b.settleOrRetry(j, &name, itemErr, requeue)
		}
	}

	b.mu.Lock()
	// Retries go to the front so an old operation cannot be starved by a
	// stream of fresh enqueues.
	b.queue = append(requeue, b.queue...)
	b.inFlight = false
	b.cond.Broadcast()
	b.kickLocked()
	b.mu.Unlock()
}

// settleOrRetry either schedules the job for another send or fails it for
// good with a BulkWriterError.
func (b *BulkWriter) settleOrRetry(j *BulkWriterJob, statusName *string, cause error, requeue []*BulkWriterJob) []*BulkWriterJob {
	if j.attempts < bulkMaxAttempts && b.retryable(cause) {
		j.readyAt = time.Now().Add(bulkRetryDelay(j.attempts))
		b.logger.Debug("bulk write retry scheduled",
			"doc", j.ref.Path, "op", j.op, "attempt", j.attempts)
		return append(requeue, j)
	}
	name := statusOf(cause)
	if statusName != nil {
		name = *statusName
	}
	j.err = &BulkWriterError{
		Ref:       j.ref,
		Operation: j.op,
		Status:    name,
		Attempts:  j.attempts,
		Err:       cause,
	}
	b.logger.Warn("bulk write failed",
		"doc", j.ref.Path, "op", j.op, "status", name, "attempts", j.attempts)
	close(j.done)
	return requeue
}

// bulkRetryDelay grows with the job's failure count, jittered.
func bulkRetryDelay(failures int) time.Duration {
	d := 250 * time.Millisecond
	for i := 1; i < failures; i++ {
		d *= 2
		if d >= 30*time.Second {
			d = 30 * time.Second
			break
		}
	}
	return time.Duration(rand.Float64() * float64(d))
}
