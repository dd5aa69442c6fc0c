// Package client is an HTTP client for the registry write API, used by
// the CLI and by issuer tooling.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/liquidnet/asset-registry/internal/registry"
)

// Client talks to a registry instance.
type Client struct {
	base string
	http *http.Client
}

// New creates a registry client for the given base URL.
func New(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Register submits an asset registration and returns the stored record.
func (c *Client) Register(ctx context.Context, id registry.AssetID, contractJSON json.RawMessage, contractHash string) (*registry.AssetRecord, error) {
	body := map[string]any{
		"asset_id": id,
		"contract": contractJSON,
	}
	if contractHash != "" {
		body["contract_hash"] = contractHash
	}
	var rec registry.AssetRecord
	if err := c.do(ctx, http.MethodPost, "/", body, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete asks the registry to remove an asset, authorized by the issuer's
// signature over the canonical deletion message.
func (c *Client) Delete(ctx context.Context, id registry.AssetID, sigB64 string) error {
	return c.do(ctx, http.MethodDelete, "/"+string(id), map[string]any{"signature": sigB64}, nil)
}

// ValidateContract runs the registry's offline contract validation and
// returns the computed contract hash.
func (c *Client) ValidateContract(ctx context.Context, contractJSON json.RawMessage, contractHash string) (string, error) {
	body := map[string]any{"contract": contractJSON}
	if contractHash != "" {
		body["contract_hash"] = contractHash
	}
	var resp struct {
		ContractHash string `json:"contract_hash"`
	}
	if err := c.do(ctx, http.MethodPost, "/contract/validate", body, &resp); err != nil {
		return "", err
	}
	return resp.ContractHash, nil
}

// Get fetches a registered asset record, or nil when unknown.
func (c *Client) Get(ctx context.Context, id registry.AssetID) (*registry.AssetRecord, error) {
	var rec registry.AssetRecord
	err := c.do(ctx, http.MethodGet, "/"+string(id), nil, &rec)
	if registry.IsKind(err, registry.KindNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registry request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read registry response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decodeError(resp.StatusCode, data)
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("failed to decode registry response: %w", err)
		}
	}
	return nil
}

// decodeError maps a structured {error, detail} body back onto the
// registry error taxonomy.
func decodeError(status int, body []byte) error {
	var e struct {
		Error  registry.ErrorKind `json:"error"`
		Detail string             `json:"detail"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return registry.New(e.Error, e.Detail)
	}
	return fmt.Errorf("registry returned status %d: %s", status, strings.TrimSpace(string(body)))
}
