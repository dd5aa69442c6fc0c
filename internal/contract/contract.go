// Package contract parses, validates and canonicalizes the issuer
// contract document that Liquid assets commit to at issuance time.
//
// The canonical byte form is RFC 8785 (JCS): object keys in lexicographic
// order, no insignificant whitespace, minimal integer and string forms.
// The same bytes are hashed and stored on disk, so any divergence between
// the two would silently break chain verification.
package contract

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gowebpki/jcs"
	"golang.org/x/net/idna"

	"github.com/liquidnet/asset-registry/internal/registry"
)

// Version is the only contract version the registry accepts.
const Version = 0

var tickerRe = regexp.MustCompile(`^[A-Za-z.\-]{3,24}$`)

// Contract is a parsed and validated asset contract. The entity domain is
// stored in IDNA ASCII form; optional field presence is preserved so the
// canonical serialization reproduces the submitted logical document.
type Contract struct {
	Version      int
	IssuerPubkey string
	Name         string
	Ticker       *string
	Precision    *int
	Domain       string
	Collection   *string

	canonical []byte
	hash      [32]byte
}

// contractDoc mirrors the wire schema. Pointers distinguish absent fields
// from zero values.
type contractDoc struct {
	Version      *int       `json:"version"`
	IssuerPubkey *string    `json:"issuer_pubkey"`
	Name         *string    `json:"name"`
	Ticker       *string    `json:"ticker,omitempty"`
	Precision    *int       `json:"precision,omitempty"`
	Entity       *entityDoc `json:"entity"`
	Collection   *string    `json:"collection,omitempty"`
}

type entityDoc struct {
	Domain *string `json:"domain"`
}

// Parse decodes raw JSON into a validated Contract and computes its
// canonical serialization and SHA-256 contract hash.
func Parse(raw []byte) (*Contract, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var doc contractDoc
	if err := dec.Decode(&doc); err != nil {
		return nil, classifyDecodeError(err)
	}
	if dec.More() {
		return nil, registry.New(registry.KindMalformedJSON, "trailing data after contract document")
	}

	c, err := validate(&doc)
	if err != nil {
		return nil, err
	}

	canonical, err := c.marshalCanonical()
	if err != nil {
		return nil, registry.Wrap(registry.KindMalformedJSON, err, "failed to canonicalize contract")
	}
	c.canonical = canonical
	c.hash = sha256.Sum256(canonical)
	return c, nil
}

func classifyDecodeError(err error) error {
	msg := err.Error()
	if idx := strings.Index(msg, "unknown field "); idx >= 0 {
		return registry.New(registry.KindUnknownField, "unrecognized contract field "+msg[idx+len("unknown field "):])
	}
	return registry.Wrap(registry.KindMalformedJSON, err, "invalid contract json")
}

func validate(doc *contractDoc) (*Contract, error) {
	if doc.Version == nil {
		return nil, registry.New(registry.KindMissingField, "version")
	}
	if doc.IssuerPubkey == nil {
		return nil, registry.New(registry.KindMissingField, "issuer_pubkey")
	}
	if doc.Name == nil {
		return nil, registry.New(registry.KindMissingField, "name")
	}
	if doc.Entity == nil {
		return nil, registry.New(registry.KindMissingField, "entity")
	}
	if doc.Entity.Domain == nil {
		return nil, registry.New(registry.KindMissingField, "entity.domain")
	}

	if *doc.Version != Version {
		return nil, registry.Newf(registry.KindBadVersion, "contract version must be %d", Version)
	}

	if err := validatePubkey(*doc.IssuerPubkey); err != nil {
		return nil, err
	}
	if !printableASCII(*doc.Name) {
		return nil, registry.New(registry.KindBadName, "name must be 1-255 printable ascii characters")
	}
	if doc.Ticker != nil && !tickerRe.MatchString(*doc.Ticker) {
		return nil, registry.New(registry.KindBadTicker, "ticker must be 3-24 characters of [A-Za-z.-]")
	}
	if doc.Precision != nil && (*doc.Precision < 0 || *doc.Precision > 8) {
		return nil, registry.New(registry.KindBadPrecision, "precision must be between 0 and 8")
	}
	if doc.Collection != nil && !printableASCII(*doc.Collection) {
		return nil, registry.New(registry.KindBadName, "collection must be 1-255 printable ascii characters")
	}

	domain, err := normalizeDomain(*doc.Entity.Domain)
	if err != nil {
		return nil, err
	}

	return &Contract{
		Version:      *doc.Version,
		IssuerPubkey: *doc.IssuerPubkey,
		Name:         *doc.Name,
		Ticker:       doc.Ticker,
		Precision:    doc.Precision,
		Domain:       domain,
		Collection:   doc.Collection,
	}, nil
}

func validatePubkey(s string) error {
	if len(s) != 66 {
		return registry.New(registry.KindBadPubkey, "issuer_pubkey must be 66 hex characters")
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return registry.Wrap(registry.KindBadPubkey, err, "issuer_pubkey is not valid hex")
	}
	if b[0] != 0x02 && b[0] != 0x03 {
		return registry.New(registry.KindBadPubkey, "issuer_pubkey must be a compressed secp256k1 key")
	}
	if _, err := btcec.ParsePubKey(b); err != nil {
		return registry.Wrap(registry.KindBadPubkey, err, "issuer_pubkey is not a valid secp256k1 key")
	}
	return nil
}

func printableASCII(s string) bool {
	if len(s) < 1 || len(s) > 255 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

var domainLabelRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
var numericLabelRe = regexp.MustCompile(`^[0-9]+$`)

// normalizeDomain converts the entity domain to its IDNA ASCII form and
// validates it as a bare DNS name: no scheme, port or path, at least two
// labels, label charset per RFC 1035 plus punycode.
func normalizeDomain(input string) (string, error) {
	if input == "" || strings.HasPrefix(input, ".") {
		return "", registry.New(registry.KindBadDomain, "invalid domain name")
	}
	if strings.ContainsAny(input, "/:@?#[] \t") {
		return "", registry.New(registry.KindBadDomain, "domain must not contain a scheme, port or path")
	}

	ascii, err := idna.Lookup.ToASCII(input)
	if err != nil {
		return "", registry.Wrap(registry.KindBadDomain, err, "invalid international domain name")
	}
	ascii = strings.ToLower(strings.TrimSuffix(ascii, "."))

	labels := strings.Split(ascii, ".")
	if len(labels) < 2 || len(labels) > 127 {
		return "", registry.New(registry.KindBadDomain, "domain must have between 2 and 127 labels")
	}
	// the tld must not be numeric (also rules out IP literals)
	if numericLabelRe.MatchString(labels[len(labels)-1]) {
		return "", registry.New(registry.KindBadDomain, "top level domain must not be numeric")
	}
	for _, label := range labels {
		if !domainLabelRe.MatchString(label) {
			return "", registry.Newf(registry.KindBadDomain, "invalid domain label %q", label)
		}
	}
	return ascii, nil
}

// marshalCanonical re-encodes the validated contract and runs it through
// JCS. Absent optional fields stay absent.
func (c *Contract) marshalCanonical() ([]byte, error) {
	doc := contractDoc{
		Version:      &c.Version,
		IssuerPubkey: &c.IssuerPubkey,
		Name:         &c.Name,
		Ticker:       c.Ticker,
		Precision:    c.Precision,
		Entity:       &entityDoc{Domain: &c.Domain},
		Collection:   c.Collection,
	}
	b, err := json.Marshal(&doc)
	if err != nil {
		return nil, err
	}
	return jcs.Transform(b)
}

// Canonical returns the canonical JSON bytes of the contract.
func (c *Contract) Canonical() []byte {
	return c.canonical
}

// Hash returns the single SHA-256 of the canonical bytes. The chain
// commits to its byte-reversed form.
func (c *Contract) Hash() [32]byte {
	return c.hash
}

// HashHex returns the contract hash as forward (non-reversed) lowercase hex.
func (c *Contract) HashHex() string {
	return hex.EncodeToString(c.hash[:])
}

// MatchHash confirms that a caller-supplied contract hash agrees with the
// computed one.
func (c *Contract) MatchHash(expected string) error {
	if !strings.EqualFold(expected, c.HashHex()) {
		return registry.Newf(registry.KindHashMismatch,
			"submitted contract hash %s does not match computed %s", expected, c.HashHex())
	}
	return nil
}

// TickerValue returns the ticker or the empty string when unset.
func (c *Contract) TickerValue() string {
	if c.Ticker == nil {
		return ""
	}
	return *c.Ticker
}

// PrecisionValue returns the precision, defaulting to 0 when unset.
func (c *Contract) PrecisionValue() int {
	if c.Precision == nil {
		return 0
	}
	return *c.Precision
}
