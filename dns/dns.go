// Package dns turns configured domain names into host routes. Addresses seen
// in earlier answers are kept until their TTL expires.
package dns

import (
	"go.uber.org/zap"
)

// HostCIDRs returns a /32 CIDR for every IPv4 address currently known for
// domains, in domain order and sorted by address within a domain. Lookup
// failures are logged and contribute nothing.
func (r *Resolver) HostCIDRs(logger *zap.Logger, domains []string) []string {
	logger.Debug("+ HostCIDRs")
	defer logger.Debug("- HostCIDRs")
	logger.Sugar().Debugf("using %s for DNS lookups", r.server)
	var cidrs []string
	for _, domain := range domains {
		ips := r.get(logger, domain)
		logger.Sugar().Debugf("resolved IPs for %s: %s", domain, ips)
		for _, ip := range ips {
			cidrs = append(cidrs, ip.String()+"/32")
		}
	}
	return cidrs
}
