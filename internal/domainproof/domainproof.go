// Package domainproof checks that an issuing domain has published the
// well-known file authorizing its link to a Liquid asset.
package domainproof

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"go.uber.org/zap"

	"github.com/liquidnet/asset-registry/internal/logger"
	"github.com/liquidnet/asset-registry/internal/registry"
)

// DefaultTimeout bounds a single proof fetch.
const DefaultTimeout = 30 * time.Second

// DevBase is the proof base URL used in development mode, where a local
// server stands in for every issuer domain.
const DevBase = "http://127.0.0.1:58712"

// maxProofSize caps how much of the proof body is read.
const maxProofSize = 4096

// Verifier fetches and checks domain ownership proofs. The base override
// is a process-wide startup setting; a production binary must never switch
// it per request.
type Verifier struct {
	base string
	http *http.Client
}

// New creates a proof verifier. An empty base selects production behavior:
// https against the issuer domain, plain http for .onion hosts.
func New(base string, timeout time.Duration) *Verifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Verifier{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// ProofURL returns the well-known URL the proof is expected at.
func (v *Verifier) ProofURL(domain string, id registry.AssetID) string {
	base := v.base
	if base == "" {
		scheme := "https"
		if strings.HasSuffix(domain, ".onion") {
			scheme = "http"
		}
		base = fmt.Sprintf("%s://%s", scheme, domain)
	}
	return fmt.Sprintf("%s/.well-known/liquid-asset-proof-%s", base, id)
}

// Sentence is the exact body the domain must serve to authorize the link.
func Sentence(domain string, id registry.AssetID) string {
	return fmt.Sprintf("Authorize linking the domain name %s to the Liquid asset %s", domain, id)
}

// Verify fetches the proof file and checks its contents, modulo trailing
// whitespace, against the authorization sentence.
func (v *Verifier) Verify(ctx context.Context, domain string, id registry.AssetID) error {
	url := v.ProofURL(domain, id)
	logger.Debug("fetching domain proof",
		zap.String("domain", domain),
		zap.String("asset_id", string(id)),
		zap.String("url", url),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return registry.Wrap(registry.KindProofUnavailable, err, "failed to build proof request")
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return registry.Wrap(registry.KindProofUnavailable, err, "failed fetching "+url)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			logger.Warn("failed to close proof response body", zap.Error(err))
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return registry.Newf(registry.KindProofUnavailable,
			"%s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProofSize))
	if err != nil {
		return registry.Wrap(registry.KindProofUnavailable, err, "failed reading proof body")
	}

	got := strings.TrimRightFunc(string(body), unicode.IsSpace)
	if got != Sentence(domain, id) {
		return registry.Newf(registry.KindProofMismatch,
			"%s does not contain the expected authorization", url)
	}
	return nil
}
