package taskapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	domainTask "github.com/AzielCF/az-cast/domains/task"
	pkgError "github.com/AzielCF/az-cast/pkg/error"
	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
)

type Config struct {
	BaseURL string
	AuthKey string
	Timeout time.Duration
}

// Client talks to the external Task API owning per-recipient task records.
type Client struct {
	httpClient *resty.Client
}

func NewClient(cfg Config) *Client {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.AuthKey != "" {
		client.SetHeader("x-api-key", cfg.AuthKey)
	}

	return &Client{httpClient: client}
}

func (c *Client) UpdateStatus(ctx context.Context, taskID string, update domainTask.StatusUpdate) error {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(update).
		Patch(fmt.Sprintf("/tasks/%s", taskID))
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", taskID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("task update %s returned status %d: %s", taskID, resp.StatusCode(), resp.String())
	}

	logrus.WithFields(logrus.Fields{
		"task_id": taskID,
		"status":  update.Status,
	}).Debug("[TASKAPI] Task status updated")
	return nil
}

func (c *Client) NextPending(ctx context.Context, batchID string) (*domainTask.Task, error) {
	var result domainTask.Task

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/tasks/next-pending/%s", batchID))
	if err != nil {
		return nil, fmt.Errorf("failed to poll next pending task for batch %s: %w", batchID, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, pkgError.NotFoundError(fmt.Sprintf("no pending task for batch %s", batchID))
	}
	if resp.IsError() {
		return nil, fmt.Errorf("next-pending %s returned status %d: %s", batchID, resp.StatusCode(), resp.String())
	}

	return &result, nil
}
