package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a thin RPC client talking to fsxd's POST /rpc endpoint, the
// only surface fsxctl is allowed to use per the exec-bridge adjunct's
// "talks to fsxd over the RPC surface only" constraint.
type client struct {
	baseURL string
	http    *http.Client
}

func newClient(baseURL string) *client {
	return &client{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

// rpcError mirrors rpcx's errorBody wire shape.
type rpcError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Path    string `json:"path,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s (path=%s)", e.Code, e.Message, e.Path)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// call invokes method with params, decoding the result into out (pass a
// pointer, or nil to discard a void result).
func (c *client) call(method string, params map[string]any, out any) error {
	body, err := json.Marshal(map[string]any{"method": method, "params": params})
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.baseURL+"/rpc", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var rpcErr rpcError
		if err := json.Unmarshal(data, &rpcErr); err != nil {
			return fmt.Errorf("fsxd returned %d: %s", resp.StatusCode, string(data))
		}
		return &rpcErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}
