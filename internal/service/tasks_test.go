// internal/service/tasks_test.go
package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/totemscrape/api/schemas"
)

func newRedisStore(t *testing.T) (*RedisTaskStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTaskStore(client, "", time.Hour, zaptest.NewLogger(t)), mr
}

// taskStoreContract runs the behavior every TaskStore shares.
func taskStoreContract(t *testing.T, ts TaskStore) {
	ctx := context.Background()
	started := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	_, err := ts.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, ts.Update(ctx, schemas.Task{TaskID: "missing"}), ErrTaskNotFound)

	task := schemas.Task{TaskID: "task_20250314092653_1", RunID: "run-1", Status: schemas.TaskRunning, StartedAt: started}
	require.NoError(t, ts.Create(ctx, task))

	got, err := ts.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskRunning, got.Status)
	assert.True(t, started.Equal(got.StartedAt))

	completed := started.Add(time.Minute)
	task.Status = schemas.TaskCompleted
	task.CompletedAt = &completed
	task.Result = &schemas.ExtractionResult{
		Status:  schemas.StatusSuccess,
		Message: "Successfully scraped 1 rows of data",
		Data:    []schemas.TableRow{{{Column: "Status", Value: "Aguardando"}, {Column: "ID", Value: "7"}}},
	}
	require.NoError(t, ts.Update(ctx, task))

	got, err = ts.Get(ctx, task.TaskID)
	require.NoError(t, err)
	assert.Equal(t, schemas.TaskCompleted, got.Status)
	require.NotNil(t, got.Result)
	assert.Equal(t, []string{"Status", "ID"}, got.Result.Data[0].Columns())

	n, err := ts.Cleanup(ctx, completed)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "cutoff is exclusive")

	n, err = ts.Cleanup(ctx, completed.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = ts.Get(ctx, task.TaskID)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestMemoryTaskStore(t *testing.T) {
	taskStoreContract(t, NewMemoryTaskStore())
}

func TestRedisTaskStore(t *testing.T) {
	rs, mr := newRedisStore(t)
	taskStoreContract(t, rs)

	t.Run("keys use the prefix and expire", func(t *testing.T) {
		ctx := context.Background()
		require.NoError(t, rs.Create(ctx, schemas.Task{TaskID: "ttl", Status: schemas.TaskRunning}))
		assert.True(t, mr.Exists("totem:task:ttl"))
		assert.Equal(t, time.Hour, mr.TTL("totem:task:ttl"))

		mr.FastForward(2 * time.Hour)
		_, err := rs.Get(ctx, "ttl")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("undecodable records are dropped on cleanup", func(t *testing.T) {
		require.NoError(t, mr.Set("totem:task:garbage", "{not json"))
		n, err := rs.Cleanup(context.Background(), time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.False(t, mr.Exists("totem:task:garbage"))
	})

	t.Run("server errors are reported", func(t *testing.T) {
		mr.SetError("ERR forced failure")
		defer mr.SetError("")
		_, err := rs.Get(context.Background(), "any")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrTaskNotFound)
	})
}
