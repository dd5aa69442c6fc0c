// Package chain verifies on-chain asset issuances against an Esplora
// block explorer.
package chain

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
)

// DefaultTimeout bounds a single chain verification request.
const DefaultTimeout = 30 * time.Second

// Client queries the Esplora HTTP API.
type Client struct {
	base    string
	timeout time.Duration
	http    *http.Client
}

// NewClient creates an Esplora client for the given API base URL.
func NewClient(base string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		base:    strings.TrimRight(base, "/"),
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// assetResponse is the subset of the Esplora asset endpoint the registry
// consumes; other fields are ignored.
type assetResponse struct {
	IssuanceTxin    registry.TxInput  `json:"issuance_txin"`
	IssuancePrevout registry.OutPoint `json:"issuance_prevout"`
	Status          struct {
		Confirmed   bool   `json:"confirmed"`
		BlockHeight *int64 `json:"block_height"`
	} `json:"status"`
	ContractHash string `json:"contract_hash"`
}

// asset fetches the issuance metadata for an asset id. Transport errors
// and rate limiting retry with exponential backoff inside the configured
// timeout; a 404 is terminal.
func (c *Client) asset(ctx context.Context, id registry.AssetID) (*assetResponse, error) {
	url := fmt.Sprintf("%s/asset/%s", c.base, id)

	var body []byte
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("failed to query esplora: %w", err)
		}
		defer func() {
			if err := resp.Body.Close(); err != nil {
				logger.Warn("failed to close esplora response body", zap.Error(err))
			}
		}()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(registry.Newf(registry.KindAssetNotFound,
				"asset %s not found on chain", id))
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("esplora rate limited (429)")
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("esplora returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read esplora response: %w", err)
		}
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = c.timeout
	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		if registry.IsKind(err, registry.KindAssetNotFound) {
			return nil, err
		}
		return nil, registry.Wrap(registry.KindChainUnavailable, err, "chain query failed")
	}

	var asset assetResponse
	if err := json.Unmarshal(body, &asset); err != nil {
		return nil, registry.Wrap(registry.KindChainUnavailable, err, "invalid esplora response")
	}
	return &asset, nil
}

// VerifyIssuance confirms that the issuance of assetID committed to the
// given contract hash and is buried in a block. On success it returns the
// issuance witness recorded alongside the asset.
func (c *Client) VerifyIssuance(ctx context.Context, assetID registry.AssetID, contractHash [32]byte) (*registry.IssuanceWitness, error) {
	asset, err := c.asset(ctx, assetID)
	if err != nil {
		return nil, err
	}

	expectedHex := fmt.Sprintf("%x", contractHash)
	if !strings.EqualFold(asset.ContractHash, expectedHex) {
		return nil, registry.Newf(registry.KindContractHashMismatch,
			"chain committed contract hash %s, contract hashes to %s", asset.ContractHash, expectedHex)
	}

	reconstructed, err := ComputeAssetID(asset.IssuancePrevout, contractHash)
	if err != nil {
		return nil, err
	}
	if reconstructed != assetID {
		return nil, registry.Newf(registry.KindContractHashMismatch,
			"issuance reconstructs asset id %s, expected %s", reconstructed, assetID)
	}

	if !asset.Status.Confirmed || asset.Status.BlockHeight == nil {
		return nil, registry.Newf(registry.KindUnconfirmed,
			"issuance transaction %s is not confirmed", asset.IssuanceTxin.Txid)
	}

	logger.Debug("verified on-chain issuance",
		zap.String("asset_id", string(assetID)),
		zap.String("txid", asset.IssuanceTxin.Txid),
		zap.Uint32("vin", asset.IssuanceTxin.Vin),
		zap.Int64("block_height", *asset.Status.BlockHeight),
	)

	return &registry.IssuanceWitness{
		Txin:    asset.IssuanceTxin,
		Prevout: asset.IssuancePrevout,
	}, nil
}
