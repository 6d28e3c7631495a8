// Package enrich attaches reverse DNS and GeoIP details to a caller address.
package enrich

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/miekg/dns"
	"github.com/oschwald/geoip2-golang"
)

const (
	cacheTTL   = time.Hour
	maxEntries = 1024
	dnsTimeout = time.Second
	resolvConf = "/etc/resolv.conf"
)

// Result is what is known about one address
type Result struct {
	PTR     string `json:"ptr,omitempty"`
	ASN     uint   `json:"asn,omitempty"`
	ASNName string `json:"asn_name,omitempty"`
	Country string `json:"country,omitempty"`
	City    string `json:"city,omitempty"`
	ts      time.Time
}

// Enricher looks up PTR records and, when databases are present, ASN and city
type Enricher struct {
	mu      sync.RWMutex
	cache   map[string]Result
	limit   int
	servers []string
	client  *dns.Client
	asnDB   *geoip2.Reader
	cityDB  *geoip2.Reader
	now     func() time.Time
}

// New opens GeoLite2-ASN.mmdb and GeoLite2-City.mmdb from dir if present.
// With no dnsServers the system resolv.conf is used. Missing pieces are not errors.
func New(dir string, dnsServers []string) *Enricher {
	e := &Enricher{
		cache:   make(map[string]Result),
		limit:   maxEntries,
		servers: normalizeServers(dnsServers),
		client:  &dns.Client{Timeout: dnsTimeout},
		now:     time.Now,
	}
	if len(e.servers) == 0 {
		if cfg, err := dns.ClientConfigFromFile(resolvConf); err == nil {
			for _, s := range cfg.Servers {
				e.servers = append(e.servers, net.JoinHostPort(s, cfg.Port))
			}
		}
	}

	if dir != "" {
		if p := filepath.Join(dir, "GeoLite2-ASN.mmdb"); fileExists(p) {
			if db, err := geoip2.Open(p); err == nil {
				e.asnDB = db
			}
		}
		if p := filepath.Join(dir, "GeoLite2-City.mmdb"); fileExists(p) {
			if db, err := geoip2.Open(p); err == nil {
				e.cityDB = db
			}
		}
	}
	return e
}

// Close releases the GeoIP databases
func (e *Enricher) Close() {
	if e == nil {
		return
	}
	if e.asnDB != nil {
		_ = e.asnDB.Close()
	}
	if e.cityDB != nil {
		_ = e.cityDB.Close()
	}
}

// GeoIPEnabled reports whether at least one database is open
func (e *Enricher) GeoIPEnabled() bool {
	return e != nil && (e.asnDB != nil || e.cityDB != nil)
}

// Servers returns the resolvers PTR queries go to
func (e *Enricher) Servers() []string {
	if e == nil {
		return nil
	}
	out := make([]string, len(e.servers))
	copy(out, e.servers)
	return out
}

// Lookup returns cached details for ipStr or queries them. It never fails;
// unknown fields are left empty.
func (e *Enricher) Lookup(ctx context.Context, ipStr string) Result {
	if e == nil {
		return Result{}
	}
	now := e.now()

	e.mu.RLock()
	if r, ok := e.cache[ipStr]; ok && now.Sub(r.ts) < cacheTTL {
		e.mu.RUnlock()
		return r
	}
	e.mu.RUnlock()

	r := Result{ts: now}
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return r
	}

	r.PTR = e.lookupPTR(ctx, ipStr)

	if e.asnDB != nil {
		if rec, err := e.asnDB.ASN(ip); err == nil && rec != nil {
			r.ASN = rec.AutonomousSystemNumber
			r.ASNName = rec.AutonomousSystemOrganization
		}
	}
	if e.cityDB != nil {
		if rec, err := e.cityDB.City(ip); err == nil && rec != nil {
			if name, ok := rec.Country.Names["en"]; ok && name != "" {
				r.Country = name
			} else {
				r.Country = rec.Country.IsoCode
			}
			if c, ok := rec.City.Names["en"]; ok {
				r.City = c
			}
		}
	}

	e.store(ipStr, r)
	return r
}

// store caches r, dropping expired entries first. When the cache is still
// full the oldest entry makes room.
func (e *Enricher) store(ipStr string, r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var oldest string
	for k, v := range e.cache {
		if r.ts.Sub(v.ts) >= cacheTTL {
			delete(e.cache, k)
			continue
		}
		if oldest == "" || v.ts.Before(e.cache[oldest].ts) {
			oldest = k
		}
	}
	if _, ok := e.cache[ipStr]; !ok && e.limit > 0 && len(e.cache) >= e.limit {
		delete(e.cache, oldest)
	}
	e.cache[ipStr] = r
}

func (e *Enricher) lookupPTR(ctx context.Context, ipStr string) string {
	arpa, err := dns.ReverseAddr(ipStr)
	if err != nil {
		return ""
	}
	m := new(dns.Msg)
	m.SetQuestion(arpa, dns.TypePTR)

	for _, server := range e.servers {
		qctx, cancel := context.WithTimeout(ctx, dnsTimeout)
		in, _, err := e.client.ExchangeContext(qctx, m, server)
		cancel()
		if err != nil || in == nil {
			continue
		}
		if in.Rcode != dns.RcodeSuccess {
			// NXDOMAIN is final
			return ""
		}
		for _, rr := range in.Answer {
			if ptr, ok := rr.(*dns.PTR); ok {
				return strings.TrimSuffix(ptr.Ptr, ".")
			}
		}
		return ""
	}
	return ""
}

func normalizeServers(servers []string) []string {
	var out []string
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(s); err != nil {
			s = net.JoinHostPort(s, "53")
		}
		out = append(out, s)
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
