package engine

import (
	"context"
	"math/rand"
	"net"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/coder/quartz"

	"github.com/palee/roulette39/internal/store"
)

// Manager owns every live channel. Channels are created lazily on first use
// and live until process shutdown.
type Manager struct {
	store     store.Store
	broadcast Broadcaster
	clock     quartz.Clock
	logger    *log.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	channels map[string]*Channel
	seed     func() *rand.Rand
}

// NewManager builds a manager. seed, when nil, gives every channel an
// independently seeded source; tests inject a deterministic one.
func NewManager(ctx context.Context, st store.Store, b Broadcaster, clock quartz.Clock, logger *log.Logger, seed func() *rand.Rand) *Manager {
	if seed == nil {
		seed = func() *rand.Rand {
			return rand.New(rand.NewSource(clock.Now().UnixNano()))
		}
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Manager{
		store:     st,
		broadcast: b,
		clock:     clock,
		logger:    logger,
		ctx:       ctx,
		cancel:    cancel,
		channels:  make(map[string]*Channel),
		seed:      seed,
	}
}

// Channel returns the channel for id, creating it if this is the first
// reference. The empty id maps to the default channel.
func (m *Manager) Channel(id string) *Channel {
	if id == "" {
		id = DefaultChannelID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		ch = NewChannel(m.ctx, id, m.store, m.broadcast, m.clock, m.seed(), m.logger)
		m.channels[id] = ch
		m.logger.Info("Channel created", "channel", id)
	}
	return ch
}

// Lookup returns the channel for id without creating it.
func (m *Manager) Lookup(id string) (*Channel, bool) {
	if id == "" {
		id = DefaultChannelID()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok
}

// Channels returns a snapshot of the live channels.
func (m *Manager) Channels() []*Channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// Shutdown stops every game loop.
func (m *Manager) Shutdown() {
	m.cancel()
}

// DefaultChannelID names the channel used when a client does not pick one:
// the host's outbound IPv4 address, falling back to localhost. Instances on
// different hosts then get distinct default channels without configuration.
// Dots are swapped for dashes because the id becomes a token in dot-separated
// message subjects.
func DefaultChannelID() string {
	ip := "127.0.0.1"
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
			ip = addr.IP.String()
		}
	}
	return strings.ReplaceAll(ip, ".", "-")
}
