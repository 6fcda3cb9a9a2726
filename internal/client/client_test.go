// internal/client/client_test.go
package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return New(config.ClientConfig{APIURL: ts.URL, RequestTimeout: 2 * time.Second}, zaptest.NewLogger(t))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPoll_CompletesAfterRunning(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tasks/task_1", r.URL.Path)
		n := calls.Add(1)
		switch {
		case n == 1:
			writeJSON(w, http.StatusOK, schemas.Task{TaskID: "task_1", Status: schemas.TaskRunning})
		case n == 2:
			// Non-200 answers count as attempts and do not end polling.
			writeJSON(w, http.StatusBadGateway, map[string]string{"detail": "upstream"})
		default:
			writeJSON(w, http.StatusOK, schemas.Task{TaskID: "task_1", Status: schemas.TaskCompleted, Result: &schemas.ExtractionResult{
				Status:  schemas.StatusSuccess,
				Message: "Successfully scraped 1 rows of data",
				Data:    []schemas.TableRow{{{Column: "ID", Value: "1"}}},
			}})
		}
	}))

	result := c.Poll(context.Background(), "task_1", 5, time.Millisecond)
	assert.Equal(t, schemas.StatusSuccess, result.Status)
	assert.Len(t, result.Data, 1)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoll_FailedTaskIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, schemas.Task{TaskID: "task_1", Status: schemas.TaskFailed, Error: "extraction panicked: boom"})
	}))

	result := c.Poll(context.Background(), "task_1", 5, time.Millisecond)
	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Equal(t, "extraction panicked: boom", result.Message)
	assert.NotNil(t, result.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestPoll_Timeout(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusOK, schemas.Task{TaskID: "task_1", Status: schemas.TaskRunning})
	}))

	result := c.Poll(context.Background(), "task_1", 3, time.Millisecond)
	assert.Equal(t, schemas.StatusTimeout, result.Status)
	assert.Equal(t, "Maximum retries (3) reached without completion", result.Message)
	assert.NotNil(t, result.Data)
	assert.Empty(t, result.Data)
	assert.Equal(t, int32(3), calls.Load())
}

func TestPoll_Canceled(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, schemas.Task{TaskID: "task_1", Status: schemas.TaskRunning})
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := c.Poll(ctx, "task_1", 100, time.Second)
	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "Polling canceled")
}

func TestSubmit(t *testing.T) {
	t.Run("returns the task id", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/scrape", r.URL.Path)
			var req schemas.ScrapeRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "operador", req.Credentials.Username)
			writeJSON(w, http.StatusOK, schemas.SubmitResponse{TaskID: "task_1", Status: schemas.TaskRunning})
		}))

		resp, err := c.Submit(context.Background(), schemas.ScrapeRequest{Credentials: schemas.Credentials{Username: "operador", Password: "x"}})
		require.NoError(t, err)
		assert.Equal(t, "task_1", resp.TaskID)
	})

	t.Run("reports the service detail", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Username and password are required"})
		}))

		_, err := c.Submit(context.Background(), schemas.ScrapeRequest{})
		var httpErr *HTTPError
		require.True(t, errors.As(err, &httpErr))
		assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
		assert.Equal(t, "Username and password are required", httpErr.Detail)
	})
}

func TestScrape_SubmitFailure(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"detail": "Too many scraping requests, retry later"})
	}))

	result := c.Scrape(context.Background(), schemas.ScrapeRequest{}, 3, time.Millisecond)
	assert.Equal(t, schemas.StatusFailed, result.Status)
	assert.Contains(t, result.Message, "Error initiating scraping: HTTP 429")
	assert.NotNil(t, result.Data)
}
