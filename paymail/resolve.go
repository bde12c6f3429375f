package paymail

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	ec "github.com/bsv-blockchain/go-sdk/primitives/ec"

	"github.com/bitfsorg/daoregistry-go/registry"
)

// maxResponseBytes caps capability and PKI response bodies.
const maxResponseBytes = 1 << 20

// Capabilities holds the discovered capability URL templates of a Paymail host.
type Capabilities struct {
	PKI           string // URL template for public key infrastructure
	PublicProfile string // URL template for profile info
}

// PKIResponse holds the response from a Paymail PKI endpoint.
type PKIResponse struct {
	BSVAlias string `json:"bsvalias"`
	Handle   string `json:"handle"`
	PubKey   string `json:"pubkey"` // Hex-encoded compressed public key
}

// HTTPClient defines the interface for HTTP requests.
type HTTPClient interface {
	Get(url string) (*http.Response, error)
}

// wellKnownResponse represents the JSON structure of .well-known/bsvalias.
type wellKnownResponse struct {
	BSVAlias     string                 `json:"bsvalias"`
	Capabilities map[string]interface{} `json:"capabilities"`
}

// Known Paymail capability keys.
const (
	capPKI           = "pki"
	capPublicProfile = "f12f968c92d6"
)

// Resolver turns Paymail handles into registry addresses.
type Resolver struct {
	// HTTP fetches capability documents and PKI responses.
	HTTP HTTPClient

	// DNS locates the Paymail host via SRV. Nil skips the lookup and uses
	// the handle's domain directly.
	DNS DNSResolver

	// Scheme defaults to https.
	Scheme string
}

// NewResolver returns a Resolver using a 30 second HTTP timeout and the
// given SRV resolver (which may be nil).
func NewResolver(dnsResolver DNSResolver) *Resolver {
	return &Resolver{
		HTTP: &http.Client{Timeout: 30 * time.Second},
		DNS:  dnsResolver,
	}
}

func (r *Resolver) scheme() string {
	if r.Scheme == "" {
		return "https"
	}
	return r.Scheme
}

// host returns the endpoint serving domain's Paymail API. A failed SRV
// lookup falls back to the domain itself.
func (r *Resolver) host(domain string) string {
	if r.DNS == nil {
		return domain
	}
	endpoints, err := ResolveEndpoints(domain, r.DNS)
	if err != nil {
		return domain
	}
	return strings.TrimSuffix(endpoints[0], ":443")
}

// DiscoverCapabilities fetches .well-known/bsvalias for domain.
func (r *Resolver) DiscoverCapabilities(domain string) (*Capabilities, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrPaymailDiscovery)
	}

	url := r.scheme() + "://" + r.host(domain) + "/.well-known/bsvalias"
	body, err := r.get(url)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPaymailDiscovery, err)
	}

	var wk wellKnownResponse
	if err := json.Unmarshal(body, &wk); err != nil {
		return nil, fmt.Errorf("%w: parsing JSON: %v", ErrPaymailDiscovery, err)
	}

	caps := &Capabilities{}
	for key, val := range wk.Capabilities {
		urlStr, ok := val.(string)
		if !ok {
			continue
		}
		switch {
		case key == capPKI:
			caps.PKI = urlStr
		case key == capPublicProfile || strings.Contains(key, "public-profile"):
			caps.PublicProfile = urlStr
		}
	}
	return caps, nil
}

// ResolvePKI returns the compressed public key published for alias@domain.
func (r *Resolver) ResolvePKI(alias, domain string) ([]byte, error) {
	if alias == "" || domain == "" {
		return nil, fmt.Errorf("%w: alias and domain are required", ErrPKIResolution)
	}

	caps, err := r.DiscoverCapabilities(domain)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKIResolution, err)
	}
	if caps.PKI == "" {
		return nil, fmt.Errorf("%w: no PKI capability found for %s", ErrPKIResolution, domain)
	}

	pkiURL := strings.ReplaceAll(caps.PKI, "{alias}", alias)
	pkiURL = strings.ReplaceAll(pkiURL, "{domain.tld}", domain)

	body, err := r.get(pkiURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPKIResolution, err)
	}

	var pki PKIResponse
	if err := json.Unmarshal(body, &pki); err != nil {
		return nil, fmt.Errorf("%w: parsing PKI response: %v", ErrPKIResolution, err)
	}
	if pki.PubKey == "" {
		return nil, fmt.Errorf("%w: empty public key in response", ErrPKIResolution)
	}

	pub, err := hex.DecodeString(pki.PubKey)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex public key: %v", ErrInvalidPubKey, err)
	}
	if err := validateCompressedPubKey(pub); err != nil {
		return nil, err
	}
	return pub, nil
}

// ResolveAddress resolves a handle to the registry address of its PKI key.
func (r *Resolver) ResolveAddress(handle string) (registry.Address, error) {
	alias, domain, err := ParseHandle(handle)
	if err != nil {
		return registry.Address{}, err
	}
	raw, err := r.ResolvePKI(alias, domain)
	if err != nil {
		return registry.Address{}, err
	}
	pub, err := ec.PublicKeyFromBytes(raw)
	if err != nil {
		return registry.Address{}, fmt.Errorf("%w: %w", ErrInvalidPubKey, err)
	}
	return registry.AddressFromPublicKey(pub)
}

func (r *Resolver) get(url string) ([]byte, error) {
	resp, err := r.HTTP.Get(url)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s returned status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if len(body) > maxResponseBytes {
		return nil, fmt.Errorf("response from %s exceeds %d bytes", url, maxResponseBytes)
	}
	return body, nil
}
