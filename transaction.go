package firelite

import (
	"context"
	"fmt"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

const defaultMaxAttempts = 5

// A TransactionOption configures RunTransaction.
type TransactionOption interface {
	applyTxn(*txnSettings)
}

type txnSettings struct {
	maxAttempts int
	readOnly    bool
}

type maxAttemptsOption int

func (m maxAttemptsOption) applyTxn(s *txnSettings) { s.maxAttempts = int(m) }

// MaxAttempts sets how many times RunTransaction will run the function
// before giving up on contention.
func MaxAttempts(n int) TransactionOption { return maxAttemptsOption(n) }

type readOnlyOption struct{}

func (readOnlyOption) applyTxn(s *txnSettings) { s.readOnly = true }

// ReadOnly marks the transaction read-only. Writes inside a read-only
// transaction fail immediately.
var ReadOnly TransactionOption = readOnlyOption{}

// A Transaction is passed to the RunTransaction function. All reads must
// happen before the first buffered write; the writes are applied atomically
// when the function returns.
type Transaction struct {
	c        *Client
	ctx      context.Context
	id       string
	readOnly bool
	writes   []codec.Write
	err      error
}

// RunTransaction runs fn inside a transaction and commits its buffered
// writes. On contention the transaction is rolled back and fn is rerun
// from scratch under the same transaction identity, so fn must be
// idempotent apart from its buffered writes.
func (c *Client) RunTransaction(ctx context.Context, fn func(context.Context, *Transaction) error, opts ...TransactionOption) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	settings := txnSettings{maxAttempts: defaultMaxAttempts}
	for _, o := range opts {
		o.applyTxn(&settings)
	}
	if settings.maxAttempts < 1 {
		return fmt.Errorf("transaction max attempts %d must be positive", settings.maxAttempts)
	}

	var lastErr error
	retryID := ""
	bo := newBackoff()
	for attempt := 0; attempt < settings.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := bo.wait(ctx); err != nil {
				return err
			}
		}
		retry, err := c.runTransactionOnce(ctx, fn, settings, retryID, &retryID)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			return err
		}
	}
	return lastErr
}

// runTransactionOnce runs one attempt. It reports whether the error is
// worth retrying and records the transaction id for the next attempt.
func (c *Client) runTransactionOnce(ctx context.Context, fn func(context.Context, *Transaction) error, settings txnSettings, prevID string, retryID *string) (bool, error) {
	req := &connection.BeginTransactionRequest{}
	if settings.readOnly {
		req.Options = &connection.TransactionOptions{ReadOnly: &connection.ReadOnlyOptions{}}
	} else if prevID != "" {
		req.Options = &connection.TransactionOptions{
			ReadWrite: &connection.ReadWriteOptions{RetryTransaction: prevID},
		}
	}
	resp, err := c.conn.BeginTransaction(ctx, req)
	if err != nil {
		return isRetryableForTransaction(err), err
	}
	*retryID = resp.Transaction

	t := &Transaction{
		c:        c,
		ctx:      ctx,
		id:       resp.Transaction,
		readOnly: settings.readOnly,
	}
	err = fn(ctx, t)
	if err == nil {
		// A buffered validation error poisons the commit even if the
		// function swallowed it.
		err = t.err
	}
	if err != nil {
		_ = c.conn.Rollback(ctx, &connection.RollbackRequest{Transaction: t.id})
		return isRetryableForTransaction(err), err
	}

	_, err = c.conn.Commit(ctx, &connection.CommitRequest{
		Writes:      t.writes,
		Transaction: t.id,
	})
	if err != nil {
		return isRetryableForTransaction(err), err
	}
	return false, nil
}

// checkRead enforces the reads-before-writes rule.
func (t *Transaction) checkRead() error {
	if t.err != nil {
		return t.err
	}
	if len(t.writes) > 0 {
		t.err = constants.ErrReadAfterWrite
		return t.err
	}
	return nil
}

func (t *Transaction) checkWrite() error {
	if t.err != nil {
		return t.err
	}
	if t.readOnly {
		t.err = fmt.Errorf("write in a read-only transaction")
		return t.err
	}
	return nil
}

// Get reads a document under the transaction.
func (t *Transaction) Get(ref *DocumentRef) (*DocumentSnapshot, error) {
	if err := t.checkRead(); err != nil {
		return nil, err
	}
	if ref == nil {
		return nil, constants.ErrNilDocRef
	}
	snaps, err := t.GetAll([]*DocumentRef{ref})
	if err != nil {
		return nil, err
	}
	return snaps[0], nil
}

// GetAll reads several documents under the transaction. Missing documents
// yield non-existent snapshots at their positions.
func (t *Transaction) GetAll(refs []*DocumentRef) ([]*DocumentSnapshot, error) {
	if err := t.checkRead(); err != nil {
		return nil, err
	}
	names := make([]string, len(refs))
	for i, ref := range refs {
		if ref == nil {
			return nil, constants.ErrNilDocRef
		}
		if ref.err != nil {
			return nil, ref.err
		}
		names[i] = ref.Path
	}
	return t.c.batchGet(t.ctx, names, refs, t.id)
}

// Documents runs the query under the transaction and returns all matching
// snapshots.
func (t *Transaction) Documents(q Query) ([]*DocumentSnapshot, error) {
	if err := t.checkRead(); err != nil {
		return nil, err
	}
	return q.getAll(t.ctx, t.id)
}

// Create buffers a create of ref with the given data.
func (t *Transaction) Create(ref *DocumentRef, data map[string]any) error {
	return t.buffer(ref, func() (codec.Write, error) { return ref.newCreateWrite(data) })
}

// Set buffers a set of ref, optionally merging.
func (t *Transaction) Set(ref *DocumentRef, data map[string]any, opts ...SetOption) error {
	return t.buffer(ref, func() (codec.Write, error) { return ref.newSetWrite(data, opts) })
}

// Update buffers an update of the named fields of ref.
func (t *Transaction) Update(ref *DocumentRef, updates map[string]any, preconds ...Precondition) error {
	return t.buffer(ref, func() (codec.Write, error) { return ref.newUpdateWrite(updates, preconds) })
}

// Delete buffers a delete of ref.
func (t *Transaction) Delete(ref *DocumentRef, preconds ...Precondition) error {
	return t.buffer(ref, func() (codec.Write, error) { return ref.newDeleteWrite(preconds) })
}

func (t *Transaction) buffer(ref *DocumentRef, build func() (codec.Write, error)) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if ref == nil {
		t.err = constants.ErrNilDocRef
		return t.err
	}
	w, err := build()
	if err != nil {
		t.err = err
		return t.err
	}
	t.writes = append(t.writes, w)
	return nil
}
