package dkim

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cloudflare/cfsmime/config"
	cferr "github.com/cloudflare/cfsmime/errors"
	"github.com/cloudflare/cfsmime/log"
	"github.com/jmhodges/clock"
	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// QueryMethodDNSTXT is the only key query method defined by RFC 6376.
const QueryMethodDNSTXT = "dns/txt"

// A PublicKeyLocator finds the public key a domain publishes under a
// selector. methods is the colon separated q= tag of the signature,
// QueryMethodDNSTXT when empty.
type PublicKeyLocator interface {
	LocatePublicKey(ctx context.Context, methods, domain, selector string) (*KeyRecord, error)
}

// LocateResult is the outcome of LocateAsync.
type LocateResult struct {
	Record *KeyRecord
	Err    error
}

// LocateAsync runs l.LocatePublicKey on its own goroutine. Invalid
// arguments are reported without starting the lookup.
func LocateAsync(ctx context.Context, l PublicKeyLocator, methods, domain, selector string) <-chan LocateResult {
	ch := make(chan LocateResult, 1)
	if l == nil || domain == "" || selector == "" {
		ch <- LocateResult{Err: cferr.New(cferr.ArgumentError, cferr.NullArgument)}
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		rec, err := l.LocatePublicKey(ctx, methods, domain, selector)
		ch <- LocateResult{Record: rec, Err: err}
	}()
	return ch
}

// KeyName returns the DNS name holding the key record of selector at
// domain. Internationalized names are converted to their ASCII form.
func KeyName(domain, selector string) (string, error) {
	if domain == "" || selector == "" {
		return "", cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	// Only the domain goes through IDNA, which rejects the underscore.
	d, err := idna.Lookup.ToASCII(strings.TrimSuffix(domain, "."))
	if err != nil {
		return "", cferr.Wrap(cferr.ArgumentError, cferr.InvalidArgument, err)
	}
	return selector + "._domainkey." + d, nil
}

func checkMethods(methods string) error {
	if methods == "" {
		return nil
	}
	for _, m := range splitList(methods) {
		// A bare "dns" means its only option, txt.
		if strings.EqualFold(m, QueryMethodDNSTXT) || strings.EqualFold(m, "dns") {
			return nil
		}
	}
	return cferr.Wrap(cferr.DKIMError, cferr.UnsupportedQuery, fmt.Errorf("no supported query method in %q", methods))
}

// TXTLookupFunc returns the TXT records of a DNS name, with the strings
// of each record concatenated.
type TXTLookupFunc func(ctx context.Context, name string) ([]string, error)

// TXTLocator locates keys through a TXT lookup function.
type TXTLocator struct {
	Lookup TXTLookupFunc
}

// LocatePublicKey looks up the key record of selector at domain. When
// several records are published the first one that parses wins.
func (l TXTLocator) LocatePublicKey(ctx context.Context, methods, domain, selector string) (*KeyRecord, error) {
	if l.Lookup == nil {
		return nil, cferr.New(cferr.ArgumentError, cferr.NullArgument)
	}
	if err := checkMethods(methods); err != nil {
		return nil, err
	}
	name, err := KeyName(domain, selector)
	if err != nil {
		return nil, err
	}

	txts, err := l.Lookup(ctx, name)
	if err != nil {
		return nil, cferr.Wrap(cferr.DKIMError, cferr.KeyLookupFailed, fmt.Errorf("%s: %v", name, err))
	}
	if len(txts) == 0 {
		return nil, cferr.Wrap(cferr.DKIMError, cferr.KeyLookupFailed, fmt.Errorf("%s: no key record", name))
	}

	var perr error
	for _, txt := range txts {
		rec, err := ParseKeyRecord(txt)
		if err == nil {
			return rec, nil
		}
		log.Debugf("dkim: skipping key record at %s: %v", name, err)
		perr = err
	}
	return nil, perr
}

// DNSLocator looks keys up in DNS. With a Resolver address queries go
// to that server, otherwise the system resolver is used.
type DNSLocator struct {
	Resolver string
	Timeout  time.Duration

	client *dns.Client
}

// NewDNSLocator returns a DNSLocator configured by cfg, which may be nil.
func NewDNSLocator(cfg *config.DKIM) *DNSLocator {
	l := &DNSLocator{Timeout: config.DefaultDKIMTimeout}
	if cfg != nil {
		l.Resolver = cfg.Resolver
		if cfg.Timeout > 0 {
			l.Timeout = cfg.Timeout
		}
	}
	if l.Resolver != "" {
		log.Infof("dkim: using DNS resolver %s for key lookups", l.Resolver)
		l.client = &dns.Client{Timeout: l.Timeout}
	} else {
		log.Debug("dkim: using the system resolver for key lookups")
	}
	return l
}

// LookupTXT returns the TXT records at name.
func (l *DNSLocator) LookupTXT(ctx context.Context, name string) ([]string, error) {
	if l.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.Timeout)
		defer cancel()
	}

	if l.client == nil {
		txts, err := net.DefaultResolver.LookupTXT(ctx, name)
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, nil
		}
		return txts, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	// RSA key records rarely fit in 512 bytes.
	msg.SetEdns0(4096, false)
	in, _, err := l.client.ExchangeContext(ctx, msg, l.Resolver)
	if err != nil {
		return nil, err
	}
	switch in.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, nil
	default:
		return nil, fmt.Errorf("DNS lookup for %q returned %s", name, dns.RcodeToString[in.Rcode])
	}

	var txts []string
	for _, rr := range in.Answer {
		if t, ok := rr.(*dns.TXT); ok {
			txts = append(txts, strings.Join(t.Txt, ""))
		}
	}
	return txts, nil
}

// LocatePublicKey looks up the key record of selector at domain.
func (l *DNSLocator) LocatePublicKey(ctx context.Context, methods, domain, selector string) (*KeyRecord, error) {
	return TXTLocator{Lookup: l.LookupTXT}.LocatePublicKey(ctx, methods, domain, selector)
}

type cacheEntry struct {
	rec     *KeyRecord
	expires time.Time
}

// CachingLocator remembers the keys another locator found for TTL.
// Failures are not cached.
type CachingLocator struct {
	Locator PublicKeyLocator
	TTL     time.Duration
	Clock   clock.Clock

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCachingLocator returns a CachingLocator in front of l.
func NewCachingLocator(l PublicKeyLocator, ttl time.Duration) *CachingLocator {
	return &CachingLocator{Locator: l, TTL: ttl, Clock: clock.New()}
}

func (c *CachingLocator) now() time.Time {
	if c.Clock == nil {
		return time.Now()
	}
	return c.Clock.Now()
}

// LocatePublicKey returns the cached record or asks the wrapped locator.
func (c *CachingLocator) LocatePublicKey(ctx context.Context, methods, domain, selector string) (*KeyRecord, error) {
	name, err := KeyName(domain, selector)
	if err != nil {
		return nil, err
	}
	key := strings.ToLower(methods + "|" + name)
	now := c.now()

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && now.Before(e.expires) {
		return e.rec, nil
	}

	rec, err := c.Locator.LocatePublicKey(ctx, methods, domain, selector)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entries == nil {
		c.entries = make(map[string]cacheEntry)
	}
	c.entries[key] = cacheEntry{rec: rec, expires: now.Add(c.TTL)}
	return rec, nil
}
