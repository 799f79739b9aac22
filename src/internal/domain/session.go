package domain

import (
	"net/netip"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maksimkurb/hosts-redirect/src/internal/rules"
)

type Transport string

const (
	TransportDNSUDP Transport = "dns/udp"
	TransportDNSTCP Transport = "dns/tcp"
	TransportTCP    Transport = "tcp"
)

// Session is one intercepted connection or DNS query.
type Session struct {
	ID            uint64
	Transport     Transport
	SourceAddr    netip.AddrPort
	OriginalDst   netip.AddrPort
	RequestedHost string
	MatchedRule   *rules.Rule
	Decision      Decision
	StartedAt     time.Time

	bytesUp   atomic.Int64
	bytesDown atomic.Int64
}

// AddUp counts bytes sent from the client towards the target.
func (s *Session) AddUp(n int64) {
	s.bytesUp.Add(n)
}

// AddDown counts bytes sent from the target back to the client.
func (s *Session) AddDown(n int64) {
	s.bytesDown.Add(n)
}

// SessionInfo is a point-in-time copy of a Session.
type SessionInfo struct {
	ID            uint64      `json:"id"`
	Transport     Transport   `json:"transport"`
	SourceAddr    string      `json:"source_addr"`
	OriginalDst   string      `json:"original_dst,omitempty"`
	RequestedHost string      `json:"requested_host,omitempty"`
	MatchedRule   *rules.Rule `json:"matched_rule,omitempty"`
	Decision      Decision    `json:"decision"`
	StartedAt     time.Time   `json:"started_at"`
	BytesUp       int64       `json:"bytes_up"`
	BytesDown     int64       `json:"bytes_down"`
}

func (s *Session) Info() SessionInfo {
	info := SessionInfo{
		ID:            s.ID,
		Transport:     s.Transport,
		SourceAddr:    s.SourceAddr.String(),
		RequestedHost: s.RequestedHost,
		MatchedRule:   s.MatchedRule,
		Decision:      s.Decision,
		StartedAt:     s.StartedAt,
		BytesUp:       s.bytesUp.Load(),
		BytesDown:     s.bytesDown.Load(),
	}
	if s.OriginalDst.IsValid() {
		info.OriginalDst = s.OriginalDst.String()
	}
	return info
}

// Registry tracks live sessions. Sessions are added when intercepted and
// removed when closed or rejected.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uint64]*Session
	nextID   atomic.Uint64
	total    atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
	}
}

// Add assigns the session an ID and registers it.
func (r *Registry) Add(s *Session) uint64 {
	s.ID = r.nextID.Add(1)
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	r.total.Add(1)
	return s.ID
}

func (r *Registry) Remove(id uint64) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Total returns the number of sessions ever registered.
func (r *Registry) Total() uint64 {
	return r.total.Load()
}

// List returns snapshots of live sessions ordered by ID.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, s.Info())
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos
}
