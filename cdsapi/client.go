/*
Copyright © 2024 the CDSCube authors.
This file is part of CDSCube.

CDSCube is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

CDSCube is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with CDSCube.  If not, see <http://www.gnu.org/licenses/>.
*/

// Package cdsapi retrieves data from the Copernicus Climate Data
// Store. Retrievals are asynchronous on the server side: a request is
// submitted, queued, and processed, and the result is downloaded when
// the task completes.
package cdsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/spatialmodel/cdscube"
)

// RetrievalError is a terminal failure reported by the archive for a
// submitted retrieval task.
type RetrievalError struct {
	Dataset string
	Status  string
	Message string
}

func (e RetrievalError) Error() string {
	return fmt.Sprintf("cdsapi: retrieving %s: %s: %s", e.Dataset, e.Status, e.Message)
}

// Client submits retrieval requests to the archive and downloads the
// results. It implements cdscube.Fetcher.
type Client struct {
	cfg Config

	// HTTPClient performs the requests. If nil, http.DefaultClient is
	// used.
	HTTPClient *http.Client

	// Log receives progress information for long-running retrievals.
	Log logrus.FieldLogger
}

// NewClient returns a client using the given credentials.
func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg, Log: logrus.StandardLogger()}
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// task is the archive's task state document, returned both when
// submitting a request and when polling.
type task struct {
	State     string `json:"state"`
	RequestID string `json:"request_id"`
	Location  string `json:"location"`
	Message   string `json:"message"`
	Error     struct {
		Message string `json:"message"`
		Reason  string `json:"reason"`
	} `json:"error"`
}

func (t *task) errorMessage() string {
	switch {
	case t.Error.Message != "":
		if t.Error.Reason != "" {
			return t.Error.Message + ": " + t.Error.Reason
		}
		return t.Error.Message
	case t.Message != "":
		return t.Message
	}
	return "no error message"
}

// Fetch submits req to the archive, waits for the retrieval task to
// complete, and downloads the result. Waiting uses exponential backoff
// and honors ctx cancellation. Failed tasks are not retried; their
// error is returned as a RetrievalError.
func (c *Client) Fetch(ctx context.Context, req *cdscube.ArchiveRequest) ([]byte, error) {
	t, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	log := c.Log.WithFields(logrus.Fields{
		"dataset": req.Dataset,
		"start":   req.Start.Format("2006-01-02"),
		"end":     req.End.Format("2006-01-02"),
	})
	log.Info("cdsapi: request submitted")

	err = backoff.RetryNotify(
		func() error {
			var err error
			t, err = c.poll(ctx, t)
			if err != nil {
				return err
			}
			switch t.State {
			case "completed":
				return nil
			case "failed":
				return backoff.Permanent(RetrievalError{
					Dataset: req.Dataset,
					Status:  t.State,
					Message: t.errorMessage(),
				})
			default: // queued, running
				return fmt.Errorf("cdsapi: task for %s is %s", req.Dataset, t.State)
			}
		},
		backoff.WithContext(pollBackOff(), ctx),
		func(err error, d time.Duration) {
			log.Infof("%v: checking again in %v", err, d)
		},
	)
	if err != nil {
		return nil, err
	}
	log.Info("cdsapi: request completed, downloading")
	return c.download(ctx, req.Dataset, t.Location)
}

func pollBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	// Large retrievals can queue for a long time.
	b.MaxElapsedTime = 12 * time.Hour
	return b
}

func (c *Client) submit(ctx context.Context, req *cdscube.ArchiveRequest) (*task, error) {
	body, err := req.Body()
	if err != nil {
		return nil, err
	}
	url := c.cfg.URL + "/resources/" + req.Dataset
	hr, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("cdsapi: creating request for %s: %v", req.Dataset, err)
	}
	hr.Header.Set("Content-Type", "application/json")
	return c.doTask(ctx, req.Dataset, hr)
}

func (c *Client) poll(ctx context.Context, t *task) (*task, error) {
	url := c.cfg.URL + "/tasks/" + t.RequestID
	hr, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("cdsapi: creating poll request: %v", err)
	}
	return c.doTask(ctx, "", hr)
}

// doTask performs an authenticated request expected to return a task
// state document.
func (c *Client) doTask(ctx context.Context, dataset string, hr *http.Request) (*task, error) {
	resp, err := c.do(ctx, hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cdsapi: reading response: %v", err)
	}
	var t task
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("cdsapi: decoding task state (HTTP %d): %v", resp.StatusCode, err)
	}
	if resp.StatusCode >= 300 && t.State != "failed" {
		return nil, backoff.Permanent(RetrievalError{
			Dataset: dataset,
			Status:  fmt.Sprintf("HTTP %d", resp.StatusCode),
			Message: t.errorMessage(),
		})
	}
	return &t, nil
}

func (c *Client) download(ctx context.Context, dataset, location string) ([]byte, error) {
	if !strings.Contains(location, "://") {
		location = c.cfg.URL + "/" + strings.TrimPrefix(location, "/")
	}
	hr, err := http.NewRequest(http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("cdsapi: creating download request: %v", err)
	}
	resp, err := c.do(ctx, hr)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, RetrievalError{
			Dataset: dataset,
			Status:  fmt.Sprintf("HTTP %d", resp.StatusCode),
			Message: "downloading result",
		}
	}
	b, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("cdsapi: downloading result for %s: %v", dataset, err)
	}
	return b, nil
}

// do performs one authenticated HTTP request. The API key has the form
// "UID:KEY" and maps onto HTTP basic authentication.
func (c *Client) do(ctx context.Context, hr *http.Request) (*http.Response, error) {
	hr = hr.WithContext(ctx)
	if i := strings.Index(c.cfg.Key, ":"); i >= 0 {
		hr.SetBasicAuth(c.cfg.Key[:i], c.cfg.Key[i+1:])
	} else {
		hr.SetBasicAuth("", c.cfg.Key)
	}
	resp, err := c.httpClient().Do(hr)
	if err != nil {
		return nil, fmt.Errorf("cdsapi: %v", err)
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, backoff.Permanent(fmt.Errorf("cdsapi: authentication failed (HTTP %d); check the url and key settings", resp.StatusCode))
	}
	return resp, nil
}
