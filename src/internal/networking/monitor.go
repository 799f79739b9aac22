package networking

import (
	"context"
	"sync"
	"time"

	"github.com/vishvananda/netlink"

	"github.com/maksimkurb/hosts-redirect/src/internal/log"
)

// pollInterval is used when netlink subscriptions are unavailable.
const pollInterval = 30 * time.Second

// Monitor watches address and link changes and calls onChange once per
// burst of events.
type Monitor struct {
	debounce time.Duration
	onChange func()
}

func NewMonitor(debounce time.Duration, onChange func()) *Monitor {
	return &Monitor{debounce: debounce, onChange: onChange}
}

// Run blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	d := newDebouncer(m.debounce, m.onChange)
	defer d.Stop()

	done := make(chan struct{})
	defer close(done)

	addrCh := make(chan netlink.AddrUpdate, 16)
	if err := netlink.AddrSubscribeWithOptions(addrCh, done, netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) { log.Debugf("Address subscription error: %v", err) },
	}); err != nil {
		log.Warnf("Failed to subscribe to address updates: %v", err)
		addrCh = nil
	}

	linkCh := make(chan netlink.LinkUpdate, 16)
	if err := netlink.LinkSubscribe(linkCh, done); err != nil {
		log.Warnf("Failed to subscribe to link updates: %v", err)
		linkCh = nil
	}

	var poll <-chan time.Time
	if addrCh == nil && linkCh == nil {
		log.Infof("Falling back to polling local addresses every %s", pollInterval)
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		poll = ticker.C
	}
	last, _ := LocalAddresses()

	for {
		select {
		case <-ctx.Done():
			return

		case update, ok := <-addrCh:
			if !ok {
				addrCh = nil
				continue
			}
			log.Debugf("Address %s on link %d (new=%v)", update.LinkAddress.String(), update.LinkIndex, update.NewAddr)
			d.Trigger()

		case update, ok := <-linkCh:
			if !ok {
				linkCh = nil
				continue
			}
			log.Debugf("Link %s changed", update.Link.Attrs().Name)
			d.Trigger()

		case <-poll:
			current, err := LocalAddresses()
			if err != nil {
				log.Errorf("Failed to get local addresses: %v", err)
				continue
			}
			if !addressesEqual(last, current) {
				last = current
				d.Trigger()
			}
		}
	}
}

// debouncer runs fn once after no Trigger call arrived for the delay.
type debouncer struct {
	mu    sync.Mutex
	delay time.Duration
	fn    func()
	timer *time.Timer
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
