package api

import (
	"fmt"
	"net/http"
	"time"
)

// keepAliveInterval keeps idle SSE connections open through proxies.
const keepAliveInterval = 15 * time.Second

// StreamDNSCheck streams the names of DNS check queries that reach the proxy.
// A client resolving <anything>.dns-check.hosts-redirect.internal through the router
// sees its query appear here, which proves its DNS is captured.
// GET /api/v1/dns-check
func (h *Handler) StreamDNSCheck(w http.ResponseWriter, r *http.Request) {
	subscriber := h.dnsCheckSubscriber()
	if subscriber == nil {
		WriteUnavailable(w, "DNS proxy is not running")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteInternalError(w, "Streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	ch := subscriber.Subscribe()
	defer subscriber.Unsubscribe(ch)

	fmt.Fprintf(w, "event: ready\ndata: subscribed\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case domain, ok := <-ch:
			if !ok {
				// proxy stopped
				fmt.Fprintf(w, "event: closed\ndata: DNS proxy stopped\n\n")
				flusher.Flush()
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", domain)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}
