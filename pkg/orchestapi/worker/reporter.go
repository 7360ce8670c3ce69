/*
Copyright 2024 The Orchest Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	v1 "github.com/orchest/orchest-api/pkg/orchestapi/apis/v1"
)

// HTTPReporter PUTs status updates to the HTTP Facade, retrying
// transient failures the same way prow/jira's Client wraps its calls in
// a retryablehttp.Client rather than a bare http.Client.
type HTTPReporter struct {
	baseURL string
	client  *retryablehttp.Client
	logger  *zap.Logger
}

// NewHTTPReporter targets baseURL, the address the HTTP Facade listens
// on (e.g. "http://orchest-api:80").
func NewHTTPReporter(baseURL string, logger *zap.Logger) *HTTPReporter {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &HTTPReporter{baseURL: strings.TrimSuffix(baseURL, "/"), client: client, logger: logger}
}

func (r *HTTPReporter) put(ctx context.Context, path string, upd v1.StatusUpdate) error {
	body, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("worker: marshal status update: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, r.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("worker: build status update request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("worker: status update request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("worker: status update %s returned %d", path, resp.StatusCode)
	}
	return nil
}

func (r *HTTPReporter) ReportEnvironmentBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	return r.put(ctx, "/environment-builds/"+uuid, upd)
}

func (r *HTTPReporter) ReportJupyterBuild(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	return r.put(ctx, "/jupyter-builds/"+uuid, upd)
}

func (r *HTTPReporter) ReportRun(ctx context.Context, uuid string, upd v1.StatusUpdate) error {
	return r.put(ctx, "/runs/"+uuid, upd)
}

var _ Reporter = (*HTTPReporter)(nil)
