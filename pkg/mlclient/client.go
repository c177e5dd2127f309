package mlclient

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/noah-isme/edulearn-api/internal/models"
	appErrors "github.com/noah-isme/edulearn-api/pkg/errors"
)

// StartJobRequest is the hand-off payload sent to the generation service.
type StartJobRequest struct {
	LectureID     string               `json:"lectureId"`
	TextContent   string               `json:"textContent"`
	VoiceSettings models.VoiceSettings `json:"voiceSettings"`
}

// StartJobResponse is returned when the generation service accepts a job.
type StartJobResponse struct {
	JobID         string `json:"jobId"`
	Status        string `json:"status"`
	EstimatedTime string `json:"estimatedTime"`
}

// JobStatusResponse mirrors the polling contract of the generation service.
type JobStatusResponse struct {
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	AudioURL     string `json:"audioUrl"`
	VideoURL     string `json:"videoUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
	Error        string `json:"error"`
}

// Client talks to the external ML lecture generation service.
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// New constructs a client for the given base URL.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	return &Client{http: httpClient, logger: logger}
}

// StartJob hands a lecture off for audio/video generation.
func (c *Client) StartJob(ctx context.Context, req StartJobRequest) (*StartJobResponse, error) {
	var result StartJobResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/process-lecture")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "generation service unreachable")
	}
	if resp.StatusCode() >= http.StatusInternalServerError {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, fmt.Sprintf("generation service returned %d", resp.StatusCode()))
	}
	if resp.IsError() {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, fmt.Sprintf("generation service rejected job: %s", resp.String()))
	}
	if result.JobID == "" {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, "generation service accepted job without job id")
	}
	return &result, nil
}

// JobStatus fetches the current state of a running generation job.
func (c *Client) JobStatus(ctx context.Context, jobID string) (*JobStatusResponse, error) {
	var result JobStatusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get(fmt.Sprintf("/status/%s", jobID))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUpstreamUnavailable.Code, appErrors.ErrUpstreamUnavailable.Status, "generation service unreachable")
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("generation job %s not found", jobID))
	}
	if resp.IsError() {
		return nil, appErrors.Clone(appErrors.ErrUpstreamUnavailable, fmt.Sprintf("generation service returned %d", resp.StatusCode()))
	}
	return &result, nil
}
