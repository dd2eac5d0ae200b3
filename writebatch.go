package firelite

import (
	"context"
	"fmt"

	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

// A WriteBatch accumulates independent writes, possibly to different
// documents, and commits them in one atomic call. Writes apply in the
// order they were added.
type WriteBatch struct {
	c      *Client
	writes []codec.Write
	err    error
}

// Create adds a create of ref to the batch.
func (b *WriteBatch) Create(ref *DocumentRef, data map[string]any) *WriteBatch {
	return b.add(ref, func() (codec.Write, error) { return ref.newCreateWrite(data) })
}

// Set adds a set of ref to the batch, optionally merging.
func (b *WriteBatch) Set(ref *DocumentRef, data map[string]any, opts ...SetOption) *WriteBatch {
	return b.add(ref, func() (codec.Write, error) { return ref.newSetWrite(data, opts) })
}

// Update adds an update of the named fields of ref to the batch.
func (b *WriteBatch) Update(ref *DocumentRef, updates map[string]any, preconds ...Precondition) *WriteBatch {
	return b.add(ref, func() (codec.Write, error) { return ref.newUpdateWrite(updates, preconds) })
}

// Delete adds a delete of ref to the batch.
func (b *WriteBatch) Delete(ref *DocumentRef, preconds ...Precondition) *WriteBatch {
	return b.add(ref, func() (codec.Write, error) { return ref.newDeleteWrite(preconds) })
}

func (b *WriteBatch) add(ref *DocumentRef, build func() (codec.Write, error)) *WriteBatch {
	if b.err != nil {
		return b
	}
	if ref == nil {
		b.err = constants.ErrNilDocRef
		return b
	}
	w, err := build()
	if err != nil {
		b.err = err
		return b
	}
	b.writes = append(b.writes, w)
	return b
}

// Commit applies every write in the batch atomically. The returned results
// are positional.
func (b *WriteBatch) Commit(ctx context.Context) ([]*WriteResult, error) {
	if b.err != nil {
		return nil, b.err
	}
	if err := b.c.checkOpen(); err != nil {
		return nil, err
	}
	if len(b.writes) == 0 {
		return nil, fmt.Errorf("cannot commit an empty batch")
	}
	resp, err := b.c.conn.Commit(ctx, &connection.CommitRequest{Writes: b.writes})
	if err != nil {
		return nil, err
	}
	out := make([]*WriteResult, len(b.writes))
	for i := range b.writes {
		out[i], err = writeResultFromCommit(resp, i)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
