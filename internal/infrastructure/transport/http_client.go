// Package transport implements the backend API client over HTTPS with
// exponential-backoff retries on transient failures.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nexivo/sentinel/internal/application/dto"
	"github.com/nexivo/sentinel/internal/domain/models"
	"github.com/nexivo/sentinel/internal/domain/service"
	"github.com/nexivo/sentinel/pkg/errors"
	"github.com/nexivo/sentinel/pkg/logger"
)

const (
	defaultTimeout     = 30 * time.Second
	maxRetryElapsed    = 2 * time.Minute
	headerAPIKey       = "X-Api-Key"
	heartbeatPath      = "/api/v1/devices/%s/heartbeat/"
	registrationPath   = "/api/v1/devices/register/"
	incidentPath       = "/api/v1/devices/%s/incidents/"
	mismatchPath       = "/api/v1/devices/%s/mismatch/"
)

// Client is the HTTP implementation of the backend Transport.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logger.Logger
}

var _ service.Transport = (*Client)(nil)

// NewClient constructs the backend client. baseURL carries no trailing
// slash.
func NewClient(baseURL, apiKey string, log logger.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: defaultTimeout},
		logger:  log.WithComponent("transport"),
	}
}

// SendHeartbeat posts one heartbeat payload and returns the parsed
// authoritative response.
func (c *Client) SendHeartbeat(ctx context.Context, deviceID string, payload *dto.HeartbeatPayload) (*dto.HeartbeatResponse, error) {
	var response dto.HeartbeatResponse
	path := fmt.Sprintf(heartbeatPath, deviceID)
	if err := c.post(ctx, path, payload, &response); err != nil {
		return nil, err
	}
	if !response.Success {
		return nil, errors.ErrTransportFailed(path).WithMetadata("message", response.Message)
	}
	return &response, nil
}

// RegisterDevice enrolls the device and returns the assigned device id.
func (c *Client) RegisterDevice(ctx context.Context, payload *dto.RegistrationPayload) (string, error) {
	var response struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
		Content struct {
			DeviceID string `json:"device_id"`
		} `json:"content"`
	}
	if err := c.post(ctx, registrationPath, payload, &response); err != nil {
		return "", err
	}
	if !response.Success || response.Content.DeviceID == "" {
		return "", errors.ErrTransportFailed(registrationPath).WithMetadata("message", response.Message)
	}
	return response.Content.DeviceID, nil
}

// ReportIncident delivers one forensic incident.
func (c *Client) ReportIncident(ctx context.Context, deviceID string, incident *models.AuditIncident) error {
	path := fmt.Sprintf(incidentPath, deviceID)
	return c.post(ctx, path, incident, nil)
}

// ReportMismatch delivers a baseline comparison result.
func (c *Client) ReportMismatch(ctx context.Context, deviceID string, result *models.ComparisonResult) error {
	path := fmt.Sprintf(mismatchPath, deviceID)
	return c.post(ctx, path, result, nil)
}

// post sends one JSON request with exponential backoff on transient
// failures. 4xx responses are terminal; retrying cannot fix them.
func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return errors.ErrInvalidRequest("encode request body").WithCause(err)
	}

	expBo := backoff.NewExponentialBackOff()
	expBo.MaxElapsedTime = maxRetryElapsed
	policy := backoff.WithContext(expBo, ctx)

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set(headerAPIKey, c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Warn(ctx, "Backend request failed, retrying",
				logger.String("path", path),
				logger.String("reason", err.Error()),
			)
			return err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}

		switch {
		case resp.StatusCode >= 500:
			return fmt.Errorf("server error %d", resp.StatusCode)
		case resp.StatusCode >= 400:
			return backoff.Permanent(errors.ErrTransportFailed(path).
				WithMetadata("status", resp.StatusCode))
		}

		if out != nil {
			if err := json.Unmarshal(respBody, out); err != nil {
				return backoff.Permanent(errors.ErrTransportFailed(path).WithCause(err))
			}
		}
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		if appErr, ok := errors.AsAppError(err); ok {
			return appErr
		}
		return errors.ErrTransportFailed(path).WithCause(err)
	}
	return nil
}
