package scanning

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"

	"github.com/anstrom/tracerama/internal/logging"
)

const (
	defaultResolverTimeout = 2 * time.Second
	defaultResolverTTL     = 10 * time.Minute
	resolvConfPath         = "/etc/resolv.conf"
	fallbackNameServer     = "127.0.0.1:53"
)

// HostResolver maps hop addresses to names.
type HostResolver interface {
	LookupAddrs(ctx context.Context, addrs []string) map[string]string
}

// DNSResolver performs PTR lookups against one name server and caches
// answers and NXDOMAIN misses. Transport failures and server errors are
// retried on the next lookup.
type DNSResolver struct {
	server string
	client *dns.Client
	cache  *cache.Cache
	logger *logging.Logger
}

// NewDNSResolver creates a resolver for server ("host:port"). An empty server
// uses the first name server from /etc/resolv.conf.
func NewDNSResolver(server string, timeout time.Duration) *DNSResolver {
	if timeout <= 0 {
		timeout = defaultResolverTimeout
	}
	if server == "" {
		server = systemNameServer()
	} else if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	return &DNSResolver{
		server: server,
		client: &dns.Client{Timeout: timeout},
		cache:  cache.New(defaultResolverTTL, 2*defaultResolverTTL),
		logger: logging.Default().WithComponent("resolver"),
	}
}

func systemNameServer() string {
	conf, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(conf.Servers) == 0 {
		return fallbackNameServer
	}
	return net.JoinHostPort(conf.Servers[0], conf.Port)
}

// Server returns the name server queried.
func (r *DNSResolver) Server() string {
	return r.server
}

// Lookup returns the PTR name for addr without the trailing dot, or "" when
// there is none.
func (r *DNSResolver) Lookup(ctx context.Context, addr string) string {
	if v, ok := r.cache.Get(addr); ok {
		return v.(string)
	}

	name, final := r.query(ctx, addr)
	if final {
		r.cache.Set(addr, name, cache.DefaultExpiration)
	}
	return name
}

// query reports whether the answer is final and may be cached.
func (r *DNSResolver) query(ctx context.Context, addr string) (string, bool) {
	arpa, err := dns.ReverseAddr(addr)
	if err != nil {
		return "", true
	}

	msg := new(dns.Msg)
	msg.SetQuestion(arpa, dns.TypePTR)
	msg.RecursionDesired = true

	in, _, err := r.client.ExchangeContext(ctx, msg, r.server)
	if err != nil {
		r.logger.Debug("PTR lookup failed", "address", addr, "server", r.server, "error", err)
		return "", false
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", true
	default:
		return "", false
	}
	for _, rr := range in.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), true
		}
	}
	return "", true
}

// LookupAddrs resolves addrs concurrently. Only addresses with a name are
// present in the returned map.
func (r *DNSResolver) LookupAddrs(ctx context.Context, addrs []string) map[string]string {
	var (
		mu    sync.Mutex
		wg    sync.WaitGroup
		names = make(map[string]string)
		seen  = make(map[string]struct{})
	)
	for _, addr := range addrs {
		if addr == "" || addr == "*" {
			continue
		}
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}

		wg.Add(1)
		go func(addr string) {
			defer wg.Done()
			if name := r.Lookup(ctx, addr); name != "" {
				mu.Lock()
				names[addr] = name
				mu.Unlock()
			}
		}(addr)
	}
	wg.Wait()
	return names
}
