package chunkers

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/custodia-labs/foundry-rag/internal/core/domain"
	"github.com/custodia-labs/foundry-rag/internal/core/ports/driven"
)

// Web fetches a URL under an SSRF guard, converts HTML/plain-text bodies
// to plain text, and delegates windowing to PlainTextChunks.
type Web struct{}

var _ driven.Chunker = Web{}

const (
	webUserAgent    = "foundry-rag/0.1"
	webMaxBytes     = 5 * 1024 * 1024
	webTimeout      = 30 * time.Second
	webMaxRedirects = 3
)

var webAllowedContentTypes = map[string]bool{
	"text/html":  true,
	"text/plain": true,
}

func (Web) Chunk(sourceID string, raw []byte, hint map[string]any, cfg driven.ChunkerConfig) ([]domain.ChunkDraft, error) {
	target := string(raw)
	if u, ok := hint["url"].(string); ok && u != "" {
		target = u
	}

	body, contentType, err := fetchGuarded(target)
	if err != nil {
		return nil, err
	}

	text := bodyToText(body, contentType)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return PlainTextChunks(text, cfg, 0)
}

// ssrfDialer resolves the host, rejects any resolved address in a
// private/loopback/link-local/reserved/multicast/unspecified range, then
// dials the validated address directly (never re-resolving) to close the
// TOCTOU gap between check and connect.
func ssrfDialer(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, err
	}
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, domain.NewError(domain.KindSSRF, "resolve host "+host, "", err)
	}
	if len(ips) == 0 {
		return nil, domain.NewError(domain.KindSSRF, "no addresses resolved for host "+host, "", nil)
	}
	for _, ip := range ips {
		if isBlockedIP(ip.IP) {
			return nil, domain.NewError(domain.KindSSRF,
				"URL resolves to a disallowed address ("+ip.IP.String()+")",
				"internal network addresses cannot be fetched", nil)
		}
	}
	d := net.Dialer{Timeout: webTimeout}
	return d.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

func isBlockedIP(ip net.IP) bool {
	return ip.IsPrivate() ||
		ip.IsLoopback() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsUnspecified() ||
		isReservedIP(ip)
}

// isReservedIP checks the ranges not already covered by the net.IP helper
// methods above (0.0.0.0/8, 240.0.0.0/4 "future use", and the IPv4
// benchmarking/documentation blocks).
func isReservedIP(ip net.IP) bool {
	for _, cidr := range []string{
		"0.0.0.0/8", "240.0.0.0/4", "192.0.2.0/24", "198.51.100.0/24", "203.0.113.0/24", "198.18.0.0/15",
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err == nil && block.Contains(ip) {
			return true
		}
	}
	return false
}

func fetchGuarded(target string) ([]byte, string, error) {
	parsed, err := url.Parse(target)
	if err != nil {
		return nil, "", domain.NewError(domain.KindConfiguration, "parse URL "+target, "", err)
	}
	if parsed.Scheme != "https" && parsed.Scheme != "http" {
		return nil, "", domain.NewError(domain.KindConfiguration,
			"unsupported URL scheme '"+parsed.Scheme+"'", "only https:// and http:// are allowed", nil)
	}

	client := &http.Client{
		Timeout: webTimeout,
		Transport: &http.Transport{
			DialContext: ssrfDialer,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > webMaxRedirects {
				return domain.NewError(domain.KindConfiguration, "too many redirects for "+target, "", nil)
			}
			if req.URL.Scheme != "https" && req.URL.Scheme != "http" {
				return domain.NewError(domain.KindConfiguration, "redirect to unsupported scheme", "", nil)
			}
			return nil
		},
	}

	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, "", domain.NewError(domain.KindConfiguration, "build request for "+target, "", err)
	}
	req.Header.Set("User-Agent", webUserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", domain.NewError(domain.KindSSRF, "fetch URL "+target, "", err)
	}
	defer resp.Body.Close()

	contentType := strings.ToLower(strings.TrimSpace(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0]))
	if contentType == "" {
		contentType = "text/html"
	}
	if !webAllowedContentTypes[contentType] {
		return nil, "", domain.NewError(domain.KindConfiguration,
			"unsupported content type '"+contentType+"' for "+target,
			"accepted: text/html, text/plain", nil)
	}

	limited := io.LimitReader(resp.Body, webMaxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", domain.NewError(domain.KindConfiguration, "read response body for "+target, "", err)
	}
	if len(body) > webMaxBytes {
		return nil, "", domain.NewError(domain.KindConfiguration, "response body exceeds 5MB limit for "+target, "", nil)
	}

	return body, contentType, nil
}

func bodyToText(body []byte, contentType string) string {
	if contentType == "text/plain" {
		return string(body)
	}
	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return string(body)
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "nav", "footer", "head":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return sb.String()
}
