package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/api"
)

// clientTimeout covers a restart, which waits for the router grace period.
const clientTimeout = 30 * time.Second

// apiClient talks to the control API of a running service.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(bind string) *apiClient {
	return &apiClient{
		baseURL: "http://" + dialableBind(bind) + "/api/v1",
		http:    &http.Client{Timeout: clientTimeout},
	}
}

// dialableBind turns a wildcard listen address into a loopback one.
func dialableBind(bind string) string {
	host, port, err := net.SplitHostPort(bind)
	if err != nil {
		return bind
	}
	switch host {
	case "", "0.0.0.0":
		host = "127.0.0.1"
	case "::", "[::]":
		host = "::1"
	}
	return net.JoinHostPort(host, port)
}

// do sends a request and decodes the "data" field of the response into out.
// API errors are returned with their code.
func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach the service API (is the service running?): %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var errResp api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error.Message == "" {
			return fmt.Errorf("API request failed: %s", resp.Status)
		}
		return fmt.Errorf("API error (%s): %s", errResp.Error.Code, errResp.Error.Message)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(&api.DataResponse{Data: out})
}
