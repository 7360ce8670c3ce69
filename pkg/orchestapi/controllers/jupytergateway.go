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

package controllers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
)

// jupyterGatewayEndpoint is the Endpoints key a session's service map
// carries for its kernel gateway, matching the original's
// shutdown_jupyter_server two-pronged teardown: kernels first, then the
// gateway process itself.
const jupyterGatewayEndpoint = "jupyter-gateway"

// JupyterGatewayClient shuts an interactive session's Jupyter Gateway
// down over its authenticated management API, the first prong of
// shutdown_jupyter_server; SessionController.Stop issues the CRA
// container stop after it.
type JupyterGatewayClient struct {
	client *retryablehttp.Client
	token  string
}

// NewJupyterGatewayClient returns a client that authenticates gateway
// shutdown requests with token, a bearer credential the session
// container is launched with.
func NewJupyterGatewayClient(token string) *JupyterGatewayClient {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &JupyterGatewayClient{client: client, token: token}
}

// Shutdown issues an authenticated DELETE against the gateway's
// /api/shutdown endpoint. A missing endpoint or a 404 answer is a
// no-op; a gateway that cannot be reached (connection refused) yields
// an error once the retryablehttp client's retries are spent, which
// SessionController.Stop logs before stopping the container anyway.
func (c *JupyterGatewayClient) Shutdown(ctx context.Context, endpoints map[string]string) error {
	url, ok := endpoints[jupyterGatewayEndpoint]
	if !ok || url == "" {
		return nil
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodDelete, url+"/api/shutdown", nil)
	if err != nil {
		return fmt.Errorf("controllers: build jupyter gateway shutdown request: %w", err)
	}
	req.Header.Set("Authorization", "token "+c.token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("controllers: jupyter gateway shutdown request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("controllers: jupyter gateway shutdown returned %d", resp.StatusCode)
	}
	return nil
}
