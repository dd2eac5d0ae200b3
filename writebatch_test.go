package firelite

import (
	"context"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firelite/firelite.go/internal/fakefs"
	"github.com/firelite/firelite.go/pkg/codec"
	"github.com/firelite/firelite.go/pkg/connection"
)

func TestWriteBatchCommit(t *testing.T) {
	c, srv := newFakeClient(t)
	srv.AddStub(fakefs.Stub{
		Method:     "POST",
		PathSuffix: ":commit",
		Response: connection.CommitResponse{
			WriteResults: []codec.WriteResult{
				{UpdateTime: "2024-02-01T00:00:00Z"},
				{UpdateTime: "2024-02-01T00:00:01Z"},
				{UpdateTime: "2024-02-01T00:00:02Z"},
			},
			CommitTime: "2024-02-01T00:00:03Z",
		},
	})

	wrs, err := c.Batch().
		Create(c.Doc("users/alice"), map[string]any{"name": "Alice"}).
		Update(c.Doc("users/bob"), map[string]any{"age": int64(9)}).
		Delete(c.Doc("users/carol")).
		Commit(context.Background())
	require.NoError(t, err)
	require.Len(t, wrs, 3)
	assert.Equal(t, 1, wrs[1].UpdateTime.Second())

	var req connection.CommitRequest
	require.NoError(t, json.Unmarshal(srv.LastRequest().Body, &req))
	require.Len(t, req.Writes, 3)
	// Order of addition is preserved on the wire.
	assert.NotNil(t, req.Writes[0].Update)
	assert.NotNil(t, req.Writes[1].Update)
	assert.NotEmpty(t, req.Writes[2].Delete)
	// No transaction id: a batch is atomic but unconditional.
	assert.Empty(t, req.Transaction)
}

func TestWriteBatchValidation(t *testing.T) {
	c, _ := newFakeClient(t)

	_, err := c.Batch().Commit(context.Background())
	assert.Error(t, err)

	_, err = c.Batch().Update(c.Doc("users/alice"), map[string]any{}).Commit(context.Background())
	assert.Error(t, err)

	// A broken ref poisons the batch at add time.
	_, err = c.Batch().Delete(c.Doc("odd")).Commit(context.Background())
	assert.Error(t, err)
}
