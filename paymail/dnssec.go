package paymail

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Defaults for NewDNSSECResolver.
const (
	DefaultDNSSECUpstream = "8.8.8.8:53"
	DefaultDNSSECTimeout  = 10 * time.Second
)

const ednsUDPSize = 4096

// DNSSECResolver looks up bsvalias SRV records through a validating recursive
// resolver. Answers the upstream did not mark as authenticated (AD bit) are
// rejected. Truncated UDP answers are retried over TCP.
type DNSSECResolver struct {
	Upstream string
	Timeout  time.Duration
}

// Compile-time interface check.
var _ DNSResolver = (*DNSSECResolver)(nil)

// NewDNSSECResolver returns a resolver for upstream. Zero values select
// DefaultDNSSECUpstream and DefaultDNSSECTimeout.
func NewDNSSECResolver(upstream string, timeout time.Duration) *DNSSECResolver {
	if upstream == "" {
		upstream = DefaultDNSSECUpstream
	}
	if timeout <= 0 {
		timeout = DefaultDNSSECTimeout
	}
	return &DNSSECResolver{Upstream: upstream, Timeout: timeout}
}

// LookupSRV returns the authenticated SRV records for _service._proto.name.
// The cname result is always empty.
func (r *DNSSECResolver) LookupSRV(service, proto, name string) (string, []*net.SRV, error) {
	qname := fmt.Sprintf("_%s._%s.%s", service, proto, name)

	answer, err := r.exchange(qname, dns.TypeSRV)
	if err != nil {
		return "", nil, err
	}
	srvs := srvRecords(answer)
	if len(srvs) == 0 {
		return "", nil, fmt.Errorf("%w: no SRV records for %s", ErrNoEndpoints, qname)
	}
	return "", srvs, nil
}

func (r *DNSSECResolver) exchange(qname string, qtype uint16) ([]dns.RR, error) {
	req := new(dns.Msg)
	req.SetQuestion(dns.Fqdn(qname), qtype)
	req.RecursionDesired = true
	req.SetEdns0(ednsUDPSize, true)

	client := &dns.Client{Net: "udp", Timeout: r.Timeout}
	resp, _, err := client.Exchange(req, r.Upstream)
	if err == nil && resp.Truncated {
		client.Net = "tcp"
		resp, _, err = client.Exchange(req, r.Upstream)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s via %s: %w", ErrDNSLookupFailed, qname, r.Upstream, err)
	}

	switch resp.Rcode {
	case dns.RcodeSuccess, dns.RcodeNameError:
	default:
		return nil, fmt.Errorf("%w: %s: %s", ErrDNSLookupFailed, qname, dns.RcodeToString[resp.Rcode])
	}
	if !resp.AuthenticatedData {
		return nil, fmt.Errorf("%w: %s answered without AD for %s", ErrDNSSECValidationFailed, r.Upstream, qname)
	}
	return resp.Answer, nil
}

func srvRecords(answer []dns.RR) []*net.SRV {
	var out []*net.SRV
	for _, rr := range answer {
		srv, ok := rr.(*dns.SRV)
		if !ok {
			continue
		}
		out = append(out, &net.SRV{
			Target:   strings.TrimSuffix(srv.Target, "."),
			Port:     srv.Port,
			Priority: srv.Priority,
			Weight:   srv.Weight,
		})
	}
	return out
}
