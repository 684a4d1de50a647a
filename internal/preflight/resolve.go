package preflight

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// Resolver resolves names against one specific DNS server, so a failing
// check points at DNS itself rather than at whatever the libc resolver is
// configured to do.
type Resolver struct {
	server string
	client *dns.Client
}

// NewResolver creates a resolver that queries the given DNS server.
func NewResolver(server string) *Resolver {
	if !strings.Contains(server, ":") {
		server += ":53"
	}
	return &Resolver{
		server: server,
		client: &dns.Client{Timeout: 5 * time.Second},
	}
}

// Resolve returns the A and AAAA addresses for host. IP literals come back
// as-is without a query.
func (r *Resolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	var ips []net.IP
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		m := new(dns.Msg)
		m.SetQuestion(dns.Fqdn(host), qtype)

		resp, _, err := r.client.ExchangeContext(ctx, m, r.server)
		if err != nil {
			return nil, fmt.Errorf("dns query %s: %w", host, err)
		}
		if resp.Rcode != dns.RcodeSuccess {
			return nil, fmt.Errorf("dns query %s: rcode %s", host, dns.RcodeToString[resp.Rcode])
		}
		for _, ans := range resp.Answer {
			switch rr := ans.(type) {
			case *dns.A:
				ips = append(ips, rr.A)
			case *dns.AAAA:
				ips = append(ips, rr.AAAA)
			}
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%s does not resolve", host)
	}
	return ips, nil
}
