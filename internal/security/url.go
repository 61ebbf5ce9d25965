package security

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ipDenyRules orders the address-class checks applied to every IP literal
// and every resolved address. The first matching rule names the class in
// the error. 169.254.169.254 and friends fall under link-local, so the
// cloud metadata services need no rule of their own.
var ipDenyRules = []struct {
	class string
	match func(net.IP) bool
}{
	{"loopback address", net.IP.IsLoopback},
	{"private IP range", net.IP.IsPrivate},
	{"link-local address", func(ip net.IP) bool {
		return ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast()
	}},
	{"unspecified address", net.IP.IsUnspecified},
}

// URL rejects fetch targets that would turn an outbound request into a
// probe of the local machine or network (SSRF). The knowledge indexer runs
// every web fetch through this: a plugin holding network:web gets public
// HTTP targets and nothing else.
//
// Validate covers what can be judged from the URL string alone. Hostnames
// only reveal their addresses at resolution time, so the full guarantee
// needs SafeTransport, whose dialer re-checks every resolved IP.
type URL struct {
	blockedHosts map[string]struct{}
}

// NewURL creates a URL validator that allows http and https to public
// addresses and blocks well-known dangerous hostnames.
func NewURL() *URL {
	blocked := []string{
		"localhost",
		"metadata.google.internal",
		"metadata.gce.internal",
		"metadata.internal",
	}
	v := &URL{blockedHosts: make(map[string]struct{}, len(blocked))}
	for _, h := range blocked {
		v.blockedHosts[h] = struct{}{}
	}
	return v
}

// Validate reports whether a URL is statically safe to fetch: an allowed
// scheme, a hostname that is neither blocked nor an IP literal in a denied
// range. Pair with SafeTransport to also cover DNS resolution.
func (v *URL) Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("unsupported scheme: %s (allowed: http, https)", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("empty hostname")
	}

	if _, blocked := v.blockedHosts[strings.ToLower(host)]; blocked {
		return fmt.Errorf("blocked host: %s", host)
	}

	// An IP literal is judged now; a hostname is judged again at dial time.
	if ip := net.ParseIP(host); ip != nil {
		return v.checkIP(ip)
	}
	return nil
}

// checkIP applies the deny rules to a single address. IPv6-mapped IPv4
// (::ffff:127.0.0.1) is unmapped first so it cannot sidestep the v4 rules.
func (v *URL) checkIP(ip net.IP) error {
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	for _, rule := range ipDenyRules {
		if rule.match(ip) {
			return fmt.Errorf("%s not allowed: %s", rule.class, ip)
		}
	}
	return nil
}

// SafeTransport returns an http.Transport whose dialer vets every address
// a hostname resolves to. This is the half of SSRF protection Validate
// cannot give: a hostname that looked public can still resolve to
// 127.0.0.1 (DNS rebinding), and only the dialer sees that.
func (v *URL) SafeTransport() *http.Transport {
	return &http.Transport{
		DialContext:         v.safeDialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

func (v *URL) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		// http.Transport always passes host:port; tolerate a bare host anyway.
		host, port = addr, ""
	}

	var dialer net.Dialer

	if ip := net.ParseIP(host); ip != nil {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("SSRF blocked: %w", err)
		}
		return dialer.DialContext(ctx, network, addr)
	}

	ips, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, fmt.Errorf("DNS lookup failed: %w", err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("no IP addresses resolved for %s", host)
	}
	for _, ip := range ips {
		if err := v.checkIP(ip); err != nil {
			return nil, fmt.Errorf("SSRF blocked (resolved %s -> %s): %w", host, ip, err)
		}
	}

	// Dial the address that was just vetted, not the hostname. Re-resolving
	// would let a second DNS answer point somewhere never checked.
	target := ips[0].String()
	if port != "" {
		target = net.JoinHostPort(target, port)
	}
	return dialer.DialContext(ctx, network, target)
}

// ValidateRedirect is an http.Client CheckRedirect policy: it caps the
// chain at 10 hops and re-validates each hop, so a public page cannot
// bounce the client into a private address.
func (v *URL) ValidateRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("stopped after 10 redirects")
	}
	return v.Validate(req.URL.String())
}
