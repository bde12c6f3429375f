package paymail

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// DNSResolver looks up SRV records. Tests substitute a fake.
type DNSResolver interface {
	LookupSRV(service, proto, name string) (string, []*net.SRV, error)
}

type defaultDNSResolver struct{}

func (d *defaultDNSResolver) LookupSRV(service, proto, name string) (string, []*net.SRV, error) {
	return net.LookupSRV(service, proto, name)
}

// DefaultDNSResolver is the production DNS resolver using the net package.
var DefaultDNSResolver DNSResolver = &defaultDNSResolver{}

// SRVService is the Paymail SRV service label: _bsvalias._tcp.{domain}.
const SRVService = "bsvalias"

// ResolveEndpoints returns the Paymail host:port endpoints of domain sorted
// by priority, then by descending weight.
func ResolveEndpoints(domain string, resolver DNSResolver) ([]string, error) {
	if domain == "" {
		return nil, fmt.Errorf("%w: empty domain", ErrDNSLookupFailed)
	}

	_, addrs, err := resolver.LookupSRV(SRVService, "tcp", domain)
	if err != nil {
		return nil, fmt.Errorf("%w: SRV lookup for _%s._tcp.%s: %w", ErrDNSLookupFailed, SRVService, domain, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: no SRV records for _%s._tcp.%s", ErrNoEndpoints, SRVService, domain)
	}

	sort.SliceStable(addrs, func(i, j int) bool {
		if addrs[i].Priority != addrs[j].Priority {
			return addrs[i].Priority < addrs[j].Priority
		}
		return addrs[i].Weight > addrs[j].Weight
	})

	endpoints := make([]string, len(addrs))
	for i, srv := range addrs {
		host := strings.TrimSuffix(srv.Target, ".")
		endpoints[i] = net.JoinHostPort(host, fmt.Sprint(srv.Port))
	}
	return endpoints, nil
}
