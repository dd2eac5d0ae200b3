package firelite

import (
	"context"
	"fmt"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelite/firelite.go/internal/fakefs"
	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
	"github.com/firelite/firelite.go/pkg/constants"
)

func beginStub(id string) fakefs.Stub {
	return fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":beginTransaction",
		Response:   connection.BeginTransactionResponse{Transaction: id},
	}
}

func TestRunTransactionCommits(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(beginStub("txn-1"))
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":batchGet",
		Response: []connection.BatchGetResponse{{
			Found: wireDoc(c.Doc("users/alice").Path, map[string]*codec.Value{
				"age": {IntegerValue: strp("30")},
			}),
		}},
	})
	srv.AddStub(commitStub())

	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		snap, err := tx.Get(c.Doc("users/alice"))
		if err != nil {
			return err
		}
		age, err := snap.DataAt("age")
		if err != nil {
			return err
		}
		return tx.Update(c.Doc("users/alice"), map[string]any{"age": age.(int64) + 1})
	})
	require.NoError(t, err)

	// The reads and the commit must all carry the transaction id.
	var sawCommit bool
	for _, r := range srv.Requests() {
		switch {
		case hasSuffix(r.Path, ":batchGet"):
			var req connection.BatchGetRequest
			require.NoError(t, json.Unmarshal(r.Body, &req))
			assert.Equal(t, "txn-1", req.Transaction)
		case hasSuffix(r.Path, ":commit"):
			sawCommit = true
			var req connection.CommitRequest
			require.NoError(t, json.Unmarshal(r.Body, &req))
			assert.Equal(t, "txn-1", req.Transaction)
			require.Len(t, req.Writes, 1)
		}
	}
	assert.True(t, sawCommit)
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func TestRunTransactionReadAfterWrite(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(beginStub("txn-1"))
	srv.AddStub(fakefs.Stub{Method: "POST", PathSuffix: ":rollback"})

	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		if err := tx.Delete(c.Doc("users/alice")); err != nil {
			return err
		}
		_, err := tx.Get(c.Doc("users/bob"))
		return err
	})
	assert.ErrorIs(t, err, constants.ErrReadAfterWrite)

	// The poisoned transaction must have been rolled back, not committed.
	var sawRollback, sawCommit bool
	for _, r := range srv.Requests() {
		sawRollback = sawRollback || hasSuffix(r.Path, ":rollback")
		sawCommit = sawCommit || hasSuffix(r.Path, ":commit")
	}
	assert.True(t, sawRollback)
	assert.False(t, sawCommit)
}

func TestRunTransactionRetriesAborted(t *testing.T) {
	c, srv := newFakeClient(t)

	begins := 0
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":beginTransaction",
		Handler: func(body []byte) (int, any) {
			begins++
			return 200, connection.BeginTransactionResponse{
				Transaction: fmt.Sprintf("txn-%d", begins),
			}
		},
	})
	srv.AddStub(fakefs.Stub{Method: "POST", PathSuffix: ":rollback"})

	commits := 0
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":commit",
		Handler: func(body []byte) (int, any) {
			commits++
			if commits < 3 {
				return 409, map[string]any{
					"error": map[string]any{"code": 409, "message": "contention", "status": "ABORTED"},
				}
			}
			return 200, connection.CommitResponse{
				WriteResults: []codec.WriteResult{{UpdateTime: "2024-02-01T00:00:00Z"}},
				CommitTime:   "2024-02-01T00:00:00Z",
			}
		},
	})

	runs := 0
	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		runs++
		return tx.Set(c.Doc("users/alice"), map[string]any{"n": runs})
	})
	require.NoError(t, err)
	assert.Equal(t, 3, runs)
	assert.Equal(t, 3, commits)

	// Retried attempts name the previous transaction id so the server can
	// prioritize them.
	reqs := srv.Requests()
	var beginBodies []connection.BeginTransactionRequest
	for _, r := range reqs {
		if hasSuffix(r.Path, ":beginTransaction") {
			var req connection.BeginTransactionRequest
			require.NoError(t, json.Unmarshal(r.Body, &req))
			beginBodies = append(beginBodies, req)
		}
	}
	require.Len(t, beginBodies, 3)
	assert.Nil(t, beginBodies[0].Options)
	require.NotNil(t, beginBodies[1].Options)
	assert.Equal(t, "txn-1", beginBodies[1].Options.ReadWrite.RetryTransaction)
	assert.Equal(t, "txn-2", beginBodies[2].Options.ReadWrite.RetryTransaction)
}

func TestRunTransactionExhaustsAttempts(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(beginStub("txn-1"))
	srv.AddStub(fakefs.Stub{Method: "POST", PathSuffix: ":rollback"})
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":commit",
		Status:     409,
		Response: map[string]any{
			"error": map[string]any{"code": 409, "message": "contention", "status": "ABORTED"},
		},
	})

	runs := 0
	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		runs++
		return tx.Delete(c.Doc("users/alice"))
	}, MaxAttempts(2))
	require.Error(t, err)
	assert.Equal(t, 2, runs)
	assert.Equal(t, constants.StatusAborted, statusOf(err))
}

func TestRunTransactionNonRetryableFailsFast(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(beginStub("txn-1"))
	srv.AddStub(fakefs.Stub{Method: "POST", PathSuffix: ":rollback"})
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":commit",
		Status:     403,
		Response: map[string]any{
			"error": map[string]any{"code": 403, "message": "denied", "status": "PERMISSION_DENIED"},
		},
	})

	runs := 0
	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		runs++
		return tx.Delete(c.Doc("users/alice"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, runs)
}

func TestReadOnlyTransactionRejectsWrites(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(beginStub("txn-ro"))
	srv.AddStub(fakefs.Stub{Method: "POST", PathSuffix: ":rollback"})
	srv.AddStub(commitStub())

	err := c.RunTransaction(context.Background(), func(ctx context.Context, tx *Transaction) error {
		return tx.Delete(c.Doc("users/alice"))
	}, ReadOnly)
	assert.Error(t, err)
}
