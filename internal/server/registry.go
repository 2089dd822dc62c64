package server

import (
	"sync"
	"time"

	"github.com/dchest/uniuri"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/vishalkuo/bimap"
	"k8s.io/utils/clock"
	"k8s.io/utils/keymutex"

	"github.com/stillcam/stillcam/internal/bus/protocol"
)

var ErrNameTaken = errors.New("node name already registered")

// Registration is a node known to the bus.
type Registration struct {
	ID         string
	Token      string
	Info       protocol.NodeInfo
	Registered time.Time
}

// NodeRegistry indexes registered nodes by id and by name. Every
// registration carries a token so that a connection which lost its entry
// to an eviction cannot delete a newer one.
type NodeRegistry struct {
	nodes map[string]*Registration
	names *bimap.BiMap[string, string] // name -> id
	mu    sync.RWMutex

	nameLock keymutex.KeyMutex
	clock    clock.PassiveClock
}

func NewNodeRegistry(clk clock.PassiveClock) *NodeRegistry {
	return &NodeRegistry{
		nodes:    map[string]*Registration{},
		names:    bimap.NewBiMap[string, string](),
		nameLock: keymutex.NewHashed(64),
		clock:    clk,
	}
}

// Register assigns an id to info. Names are unique on the bus.
func (r *NodeRegistry) Register(info protocol.NodeInfo) (*Registration, error) {
	r.nameLock.LockKey(info.Name)
	defer r.nameLock.UnlockKey(info.Name)

	if _, ok := r.Lookup(info.Name); ok {
		return nil, errors.Wrapf(ErrNameTaken, "%q", info.Name)
	}

	reg := &Registration{
		ID:         uuid.New().String(),
		Token:      uniuri.NewLen(32),
		Registered: r.clock.Now(),
	}
	info.ID = reg.ID
	reg.Info = info

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nodes[reg.ID] = reg
	r.names.Insert(info.Name, reg.ID)
	return reg, nil
}

// Lookup resolves a node name to its id.
func (r *NodeRegistry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.names.Get(name)
}

// Get returns the registration of id.
func (r *NodeRegistry) Get(id string) (*Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.nodes[id]
	return reg, ok
}

// Delete removes id if token still matches its registration.
func (r *NodeRegistry) Delete(id, token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg, ok := r.nodes[id]; ok && reg.Token == token {
		r.remove(reg)
		return true
	}
	return false
}

func (r *NodeRegistry) remove(reg *Registration) {
	delete(r.nodes, reg.ID)
	if name, ok := r.names.GetInverse(reg.ID); ok {
		r.names.Delete(name)
	}
}
