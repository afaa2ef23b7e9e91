package session

import (
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ErrNoActiveIdentity signals that no identity is currently selected.
var ErrNoActiveIdentity = errors.New("session: no active identity")

// Identity is the account a session currently acts as on the ledger.
type Identity struct {
	UserID  string
	Address common.Address
}

// Provider holds the active identity and notifies subscribers when it
// changes. Ledger writes are attributed to the active identity at the moment
// of submission, so callers read it fresh per call instead of caching it.
type Provider struct {
	mu     sync.RWMutex
	active Identity
	set    bool
	subs   map[int]func(Identity)
	nextID int
}

func NewProvider() *Provider {
	return &Provider{subs: make(map[int]func(Identity))}
}

// Active returns the current identity.
func (p *Provider) Active() (Identity, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.set {
		return Identity{}, ErrNoActiveIdentity
	}
	return p.active, nil
}

// SetActive replaces the current identity and notifies subscribers.
// Notifications run synchronously outside the lock.
func (p *Provider) SetActive(id Identity) {
	p.mu.Lock()
	p.active = id
	p.set = true
	subs := make([]func(Identity), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
}

// Clear drops the active identity without notifying subscribers.
func (p *Provider) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active = Identity{}
	p.set = false
}

// Subscribe registers a callback for identity changes and returns a cancel
// function.
func (p *Provider) Subscribe(fn func(Identity)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}
