package httpmiddleware

import (
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig configures cross-origin access for the browser client.
type CORSConfig struct {
	// AllowOrigins lists allowed origins; empty or "*" allows any origin.
	AllowOrigins     []string
	AllowMethods     []string
	AllowHeaders     []string
	ExposeHeaders    []string
	AllowCredentials bool
	// MaxAge is the preflight cache lifetime in seconds; 0 omits the header.
	MaxAge int
}

type corsPolicy struct {
	any         bool
	origins     map[string]string
	methods     string
	headers     string
	expose      string
	credentials bool
	maxAge      string
}

func newCORSPolicy(cfg CORSConfig) *corsPolicy {
	p := &corsPolicy{
		any:         len(cfg.AllowOrigins) == 0,
		origins:     make(map[string]string, len(cfg.AllowOrigins)),
		methods:     strings.Join(cfg.AllowMethods, ", "),
		headers:     strings.Join(cfg.AllowHeaders, ", "),
		expose:      strings.Join(cfg.ExposeHeaders, ", "),
		credentials: cfg.AllowCredentials,
	}
	for _, o := range cfg.AllowOrigins {
		if o == "*" {
			p.any = true
			continue
		}
		p.origins[strings.ToLower(o)] = o
	}
	if p.methods == "" {
		p.methods = "GET, POST, PUT, OPTIONS"
	}
	if cfg.MaxAge > 0 {
		p.maxAge = strconv.Itoa(cfg.MaxAge)
	}
	return p
}

// allowOrigin returns the Access-Control-Allow-Origin value for origin, or
// "" if it is not allowed. Credentialed responses never use the wildcard.
func (p *corsPolicy) allowOrigin(origin string) string {
	if orig, ok := p.origins[strings.ToLower(origin)]; ok {
		return orig
	}
	if !p.any {
		return ""
	}
	if p.credentials {
		return origin
	}
	return "*"
}

func (p *corsPolicy) preflight(w http.ResponseWriter, r *http.Request, allowed string) {
	h := w.Header()
	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	if allowed != "" {
		h.Set("Access-Control-Allow-Origin", allowed)
		h.Set("Access-Control-Allow-Methods", p.methods)
		switch {
		case p.headers != "":
			h.Set("Access-Control-Allow-Headers", p.headers)
		case r.Header.Get("Access-Control-Request-Headers") != "":
			h.Set("Access-Control-Allow-Headers", r.Header.Get("Access-Control-Request-Headers"))
		}
		if p.credentials {
			h.Set("Access-Control-Allow-Credentials", "true")
		}
		if p.maxAge != "" {
			h.Set("Access-Control-Max-Age", p.maxAge)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// CORS answers preflight requests and decorates actual cross-origin
// responses.
func CORS(cfg CORSConfig) Middleware {
	p := newCORSPolicy(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				if !p.any || p.credentials {
					w.Header().Add("Vary", "Origin")
				}
				next.ServeHTTP(w, r)
				return
			}

			allowed := p.allowOrigin(origin)
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				p.preflight(w, r, allowed)
				return
			}

			if allowed != "*" {
				w.Header().Add("Vary", "Origin")
			}
			if allowed != "" {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				if p.credentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				if p.expose != "" {
					w.Header().Set("Access-Control-Expose-Headers", p.expose)
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
