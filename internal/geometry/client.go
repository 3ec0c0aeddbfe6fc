// Package geometry provides the backends that turn single part requests into
// STL bytes.
package geometry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/sdko-org/gridgate/internal/parts"
	"github.com/sdko-org/gridgate/internal/render"
)

const maxErrorBody = 512

// Client calls an external geometry service that answers POST /bin and
// POST /baseplate with STL bytes.
type Client struct {
	httpClient *http.Client
	baseURL    string
	log        *logrus.Entry
}

type loggingTransport struct {
	log  *logrus.Entry
	next http.RoundTripper
}

// NewClient returns a client for the service at baseURL. A zero timeout
// leaves requests bounded only by their context.
func NewClient(logger *logrus.Logger, baseURL string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &loggingTransport{
				log:  logger.WithField("component", "geometry_transport"),
				next: http.DefaultTransport,
			},
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger.WithField("component", "geometry_client"),
	}
}

func (c *Client) Bin(ctx context.Context, req parts.BinRequest) ([]byte, error) {
	return c.post(ctx, "bin", req)
}

func (c *Client) Baseplate(ctx context.Context, req parts.BaseplateRequest) ([]byte, error) {
	return c.post(ctx, "baseplate", req)
}

func (c *Client) post(ctx context.Context, part string, body any) ([]byte, error) {
	start := time.Now()
	log := c.log.WithField("part", part)

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s request: %w", part, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+part, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building %s request: %w", part, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "model/stl, application/octet-stream")
	req.Header.Set("User-Agent", "Gridgate/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Error("Geometry request failed")
		return nil, &render.RenderError{Part: part, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		log.WithField("status_code", resp.StatusCode).Error("Geometry service rejected request")
		return nil, &render.RenderError{
			Part:   part,
			Status: resp.StatusCode,
			Msg:    strings.TrimSpace(string(msg)),
		}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Error("Failed to read geometry response")
		return nil, &render.RenderError{Part: part, Err: err}
	}

	log.WithFields(logrus.Fields{
		"duration": time.Since(start),
		"bytes":    len(data),
	}).Debug("Rendered part")
	return data, nil
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	log := t.log.WithFields(logrus.Fields{
		"method": req.Method,
		"url":    req.URL.String(),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		log.WithError(err).Error("HTTP request failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"status_code": resp.StatusCode,
		"duration":    time.Since(start),
	}).Debug("HTTP request completed")
	return resp, nil
}
