// Package classify maps a request onto the cache partition and strategy that serve it.
package classify

import (
	"net/http"
	"net/url"
	"path"
	"strings"
)

// Destination is the declared resource type of a request (Sec-Fetch-Dest).
type Destination string

const (
	DestUnknown  Destination = ""
	DestDocument Destination = "document"
	DestImage    Destination = "image"
	DestScript   Destination = "script"
	DestStyle    Destination = "style"
	DestFont     Destination = "font"
)

// Mode is the request mode (Sec-Fetch-Mode).
type Mode string

const (
	ModeUnknown  Mode = ""
	ModeNavigate Mode = "navigate"
)

// Strategy is the caching policy applied to a request.
type Strategy int

const (
	Bypass Strategy = iota
	CacheFirst
	NetworkFirst
	StaleWhileRevalidate
)

func (s Strategy) String() string {
	switch s {
	case CacheFirst:
		return "cache-first"
	case NetworkFirst:
		return "network-first"
	case StaleWhileRevalidate:
		return "stale-while-revalidate"
	default:
		return "bypass"
	}
}

// Partition identifies one of the four partitions of a generation.
type Partition int

const (
	AppShell Partition = iota
	Runtime
	WikiContent
	Images
)

// Partitions lists every partition kind in naming order.
var Partitions = [...]Partition{AppShell, Runtime, WikiContent, Images}

func (p Partition) String() string {
	switch p {
	case AppShell:
		return "app-shell"
	case Runtime:
		return "runtime"
	case WikiContent:
		return "wiki-content"
	case Images:
		return "images"
	default:
		return "unknown"
	}
}

// Request carries the inputs classification depends on.
type Request struct {
	Method      string
	URL         *url.URL
	Destination Destination
	Mode        Mode
}

// Route is the classification result. Partition is meaningless when Strategy is Bypass.
type Route struct {
	Partition Partition
	Strategy  Strategy
}

// Bypassed reports whether the request must never touch the cache.
func (r Route) Bypassed() bool {
	return r.Strategy == Bypass
}

var (
	imageExts = []string{".png", ".jpg", ".jpeg", ".svg", ".gif", ".webp", ".ico"}
	assetExts = []string{".js", ".css", ".woff", ".woff2", ".ttf", ".otf"}
	wikiPaths = []string{"/api/wiki", "/api/entries", "/api/categories"}
)

// Classify returns the route for req. First matching rule wins.
func Classify(req Request) Route {
	if !strings.EqualFold(req.Method, http.MethodGet) || req.URL == nil {
		return Route{Strategy: Bypass}
	}
	scheme := strings.ToLower(req.URL.Scheme)
	if scheme != "http" && scheme != "https" {
		return Route{Strategy: Bypass}
	}

	p := req.URL.Path
	ext := strings.ToLower(path.Ext(p))

	switch {
	case req.Destination == DestImage || hasAny(ext, imageExts):
		return Route{Partition: Images, Strategy: CacheFirst}
	case req.Destination == DestScript || req.Destination == DestStyle || req.Destination == DestFont || hasAny(ext, assetExts):
		return Route{Partition: AppShell, Strategy: CacheFirst}
	case containsAny(p, wikiPaths):
		return Route{Partition: WikiContent, Strategy: NetworkFirst}
	case strings.Contains(p, "/api/"):
		return Route{Partition: Runtime, Strategy: NetworkFirst}
	case req.Destination == DestDocument || req.Mode == ModeNavigate:
		return Route{Partition: Runtime, Strategy: NetworkFirst}
	default:
		return Route{Partition: Runtime, Strategy: StaleWhileRevalidate}
	}
}

// FromHTTP builds a Request from an inbound request. Proxied requests carry only a
// path, so the absolute URL is rebuilt against origin.
func FromHTTP(r *http.Request, origin *url.URL) Request {
	u := *r.URL
	if origin != nil && !u.IsAbs() {
		u.Scheme = origin.Scheme
		u.Host = origin.Host
	}
	return Request{
		Method:      r.Method,
		URL:         &u,
		Destination: Destination(strings.ToLower(r.Header.Get("Sec-Fetch-Dest"))),
		Mode:        Mode(strings.ToLower(r.Header.Get("Sec-Fetch-Mode"))),
	}
}

func hasAny(ext string, exts []string) bool {
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

func containsAny(p string, subs []string) bool {
	for _, s := range subs {
		if strings.Contains(p, s) {
			return true
		}
	}
	return false
}
