package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/basket/gotodo/internal/config"
)

type originSet struct {
	allowAll bool
	origins  map[string]bool
	// hosts are the origins reduced to host[:port] for websocket OriginPatterns.
	hosts []string
}

func newOriginSet(list []string) *originSet {
	set := &originSet{origins: make(map[string]bool, len(list))}
	for _, o := range list {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		if o == "*" {
			set.allowAll = true
		}
		set.origins[o] = true
		set.hosts = append(set.hosts, originHost(o))
	}
	return set
}

func (s *originSet) allows(origin string) bool {
	return s.allowAll || s.origins[origin]
}

func originHost(origin string) string {
	if u, err := url.Parse(origin); err == nil && u.Host != "" {
		return u.Host
	}
	return origin
}

// CORSPolicy applies CORS headers. The allowed origins can be swapped while
// the server runs.
type CORSPolicy struct {
	enabled   bool
	origins   atomic.Pointer[originSet]
	methodStr string
	headerStr string
	maxAgeStr string
}

// NewCORSPolicy builds a policy from config.
func NewCORSPolicy(cfg config.CORSConfig) *CORSPolicy {
	methods := cfg.AllowedMethods
	if len(methods) == 0 {
		methods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	}
	headers := cfg.AllowedHeaders
	if len(headers) == 0 {
		headers = []string{"Content-Type", "X-Request-ID"}
	}
	maxAge := cfg.MaxAge
	if maxAge == 0 {
		maxAge = 3600
	}
	p := &CORSPolicy{
		enabled:   cfg.Enabled,
		methodStr: strings.Join(methods, ", "),
		headerStr: strings.Join(headers, ", "),
		maxAgeStr: fmt.Sprintf("%d", maxAge),
	}
	p.origins.Store(newOriginSet(cfg.AllowedOrigins))
	return p
}

// SetAllowedOrigins replaces the origin allowlist.
func (p *CORSPolicy) SetAllowedOrigins(origins []string) {
	p.origins.Store(newOriginSet(origins))
}

// OriginPatterns returns the allowlist as host patterns for websocket.Accept.
// An empty result means same-origin only.
func (p *CORSPolicy) OriginPatterns() []string {
	if !p.enabled {
		return nil
	}
	set := p.origins.Load()
	return append([]string(nil), set.hosts...)
}

// Wrap returns next with CORS handling. When disabled it is a pass-through.
func (p *CORSPolicy) Wrap(next http.Handler) http.Handler {
	if !p.enabled {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && p.origins.Load().allows(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", p.methodStr)
			w.Header().Set("Access-Control-Allow-Headers", p.headerStr)
			w.Header().Set("Access-Control-Max-Age", p.maxAgeStr)
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestSizeLimitMiddleware limits request body size to prevent abuse.
func RequestSizeLimitMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = 10 * 1024 * 1024 // 10MB default
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
