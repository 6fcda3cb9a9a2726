// internal/client/client.go
package client

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/totemscrape/api/schemas"
	"github.com/xkilldash9x/totemscrape/internal/config"
)

const (
	DefaultMaxRetries = 30
	DefaultPollDelay  = 5 * time.Second
)

// HTTPError is a non-2xx answer from the service.
type HTTPError struct {
	StatusCode int
	Detail     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d - %s", e.StatusCode, e.Detail)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// Client submits extraction tasks to the service and polls them to completion.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New creates a client for the service at cfg.APIURL.
func New(cfg config.ClientConfig, logger *zap.Logger) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.APIURL)
	client.SetHeader("Accept", "application/json")
	client.SetJSONMarshaler(json.Marshal)
	client.SetJSONUnmarshaler(json.Unmarshal)
	if cfg.RequestTimeout > 0 {
		client.SetTimeout(cfg.RequestTimeout)
	}
	return &Client{http: client, logger: logger.Named("client")}
}

// Submit starts a task and returns its ID.
func (c *Client) Submit(ctx context.Context, req schemas.ScrapeRequest) (schemas.SubmitResponse, error) {
	var out schemas.SubmitResponse
	var apiErr errorBody
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/scrape")
	if err != nil {
		return schemas.SubmitResponse{}, fmt.Errorf("failed to submit task: %w", err)
	}
	if res.IsError() {
		return schemas.SubmitResponse{}, &HTTPError{StatusCode: res.StatusCode(), Detail: detail(apiErr, res)}
	}
	if out.TaskID == "" {
		return schemas.SubmitResponse{}, fmt.Errorf("service answered without a task id")
	}
	c.logger.Info("Task submitted.", zap.String("task_id", out.TaskID))
	return out, nil
}

// Poll fetches the task until it is completed or failed. Transport errors
// and non-200 answers count as attempts. After maxRetries attempts it returns
// a synthetic timeout result.
func (c *Client) Poll(ctx context.Context, taskID string, maxRetries int, delay time.Duration) schemas.ExtractionResult {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	log := c.logger.With(zap.String("task_id", taskID))

	for attempt := 1; attempt <= maxRetries; attempt++ {
		log.Debug("Polling task.", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		task, err := c.getTask(ctx, taskID)
		switch {
		case err != nil:
			log.Warn("Error during polling.", zap.Int("attempt", attempt), zap.Error(err))
		case task.Status == schemas.TaskCompleted:
			if task.Result == nil {
				return failedResult("Task completed without a result")
			}
			log.Info("Task completed.", zap.String("result_status", string(task.Result.Status)))
			return *task.Result
		case task.Status == schemas.TaskFailed:
			log.Warn("Task failed.", zap.String("error", task.Error))
			return failedResult(task.Error)
		default:
			log.Info("Task still running.", zap.String("status", string(task.Status)))
		}

		if attempt == maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return failedResult(fmt.Sprintf("Polling canceled: %v", ctx.Err()))
		case <-time.After(delay):
		}
	}

	return schemas.ExtractionResult{
		Status:  schemas.StatusTimeout,
		Message: fmt.Sprintf("Maximum retries (%d) reached without completion", maxRetries),
		Data:    []schemas.TableRow{},
	}
}

// Scrape submits req and polls it. Submission failures become a failed result.
func (c *Client) Scrape(ctx context.Context, req schemas.ScrapeRequest, maxRetries int, delay time.Duration) schemas.ExtractionResult {
	resp, err := c.Submit(ctx, req)
	if err != nil {
		return failedResult(fmt.Sprintf("Error initiating scraping: %v", err))
	}
	return c.Poll(ctx, resp.TaskID, maxRetries, delay)
}

func (c *Client) getTask(ctx context.Context, taskID string) (schemas.Task, error) {
	var task schemas.Task
	var apiErr errorBody
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("task_id", taskID).
		SetResult(&task).
		SetError(&apiErr).
		Get("/tasks/{task_id}")
	if err != nil {
		return schemas.Task{}, err
	}
	if res.StatusCode() != http.StatusOK {
		return schemas.Task{}, &HTTPError{StatusCode: res.StatusCode(), Detail: detail(apiErr, res)}
	}
	return task, nil
}

func detail(body errorBody, res *resty.Response) string {
	if body.Detail != "" {
		return body.Detail
	}
	return res.String()
}

func failedResult(msg string) schemas.ExtractionResult {
	return schemas.ExtractionResult{
		Status:  schemas.StatusFailed,
		Message: msg,
		Data:    []schemas.TableRow{},
	}
}
