package api

import (
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// allowedNetworks are the client networks the control API answers.
var allowedNetworks = []netip.Prefix{
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// JSONContentType rejects request bodies that are not JSON.
func JSONContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 {
			switch r.Method {
			case http.MethodPost, http.MethodPut, http.MethodPatch:
				if ct := r.Header.Get("Content-Type"); ct != "" && ct != "application/json" {
					WriteInvalidRequest(w, "Content-Type must be application/json")
					return
				}
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Logger logs every request with its status and duration. The wrapped
// writer keeps http.Flusher so event streams still work.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if status >= http.StatusInternalServerError {
			log.Warnf("%s %s - %d (%v)", r.Method, r.URL.Path, status, time.Since(start))
			return
		}
		log.Infof("%s %s - %d (%v)", r.Method, r.URL.Path, status, time.Since(start))
	})
}

// Recovery turns a handler panic into a JSON 500.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Errorf("Panic in %s %s: %v", r.Method, r.URL.Path, rec)
				WriteInternalError(w, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CORS allows browser tools on the local network to call the API.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrivateSubnetOnly lets the API bind to a wildcard address while answering
// only loopback, private and link-local clients. Forwarding headers are
// ignored.
func PrivateSubnetOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr, ok := remoteAddr(r)
		if !ok {
			log.Warnf("Rejecting request with unparsable remote address %q", r.RemoteAddr)
			WriteForbidden(w, "Access denied")
			return
		}
		if !isAllowedClient(addr) {
			log.Warnf("Access denied from non-private IP: %s", addr)
			WriteForbidden(w, "Access denied: only private networks are allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap().WithZone(""), true
}

func isAllowedClient(addr netip.Addr) bool {
	for _, network := range allowedNetworks {
		if network.Contains(addr) {
			return true
		}
	}
	return false
}
