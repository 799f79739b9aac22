package dnsproxy

import (
	"net/netip"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/maksimkurb/hosts-redirect/src/internal/domain"
)

const (
	// defaultAddressBookSize bounds the number of remembered addresses.
	defaultAddressBookSize = 16384

	// minAddressTTL keeps short-lived answers attributable for a while,
	// clients commonly connect after the record expired.
	minAddressTTL = 5 * time.Minute
)

var _ domain.HostResolver = (*AddressBook)(nil)

type addressEntry struct {
	host     string
	deadline time.Time
}

// AddressBook remembers which host name an address was resolved for, so a
// TCP session without SNI or Host header can still be attributed.
// Least recently used entries are evicted when the book is full.
type AddressBook struct {
	cache *lru.Cache
	now   func() time.Time
}

func NewAddressBook(size int) *AddressBook {
	if size <= 0 {
		size = defaultAddressBookSize
	}
	// lru.New only fails on a non-positive size
	cache, _ := lru.New(size)
	return &AddressBook{cache: cache, now: time.Now}
}

// Record stores addr -> host until the TTL runs out.
func (b *AddressBook) Record(host string, addr netip.Addr, ttl time.Duration) {
	if host == "" || !addr.IsValid() {
		return
	}
	if ttl < minAddressTTL {
		ttl = minAddressTTL
	}
	b.cache.Add(addr.Unmap(), addressEntry{host: host, deadline: b.now().Add(ttl)})
}

// HostFor returns the host name addr was last resolved for.
func (b *AddressBook) HostFor(addr netip.Addr) (string, bool) {
	key := addr.Unmap()
	value, ok := b.cache.Get(key)
	if !ok {
		return "", false
	}
	entry := value.(addressEntry)
	if b.now().After(entry.deadline) {
		b.cache.Remove(key)
		return "", false
	}
	return entry.host, true
}

// Cleanup drops expired entries.
func (b *AddressBook) Cleanup() {
	now := b.now()
	for _, key := range b.cache.Keys() {
		if value, ok := b.cache.Peek(key); ok && now.After(value.(addressEntry).deadline) {
			b.cache.Remove(key)
		}
	}
}

func (b *AddressBook) Len() int {
	return b.cache.Len()
}

func (b *AddressBook) Clear() {
	b.cache.Purge()
}
