package switches

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"pathfinder/common"

	log "github.com/sirupsen/logrus"
)

var ErrNotRegistered = errors.New("switch not registered")

// Datapath is a live connection to one switch. Both calls are best effort.
type Datapath interface {
	ID() common.DPID
	InstallRule(rule common.FlowRule) error
	EmitFrame(out common.PacketOut) error
}

// State is the connection lifecycle state reported by the transport
type State int

const (
	StateActive State = iota
	StateDead
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDead:
		return "dead"
	default:
		return "unknown"
	}
}

// Registry maps switch ids to live connections
type Registry struct {
	datapaths map[common.DPID]Datapath
	mu        sync.RWMutex

	// OnChange is called with the registry size after every add or remove
	OnChange func(count int)
}

func NewRegistry() *Registry {
	return &Registry{
		datapaths: make(map[common.DPID]Datapath),
	}
}

// OnStateChange is the switch lifecycle hook
func (r *Registry) OnStateChange(dp Datapath, state State) {
	switch state {
	case StateActive:
		if r.Register(dp) {
			installTableMiss(dp)
		}
	case StateDead:
		r.Unregister(dp)
	default:
		log.Warningf("OnStateChange, unknown state %d for switch %v", state, dp.ID())
	}
}

// Register adds dp and returns false when the same connection was already registered.
// A new connection for a known id replaces the old one.
func (r *Registry) Register(dp Datapath) bool {
	r.mu.Lock()
	existing, exists := r.datapaths[dp.ID()]
	if exists && existing == dp {
		r.mu.Unlock()
		return false
	}
	r.datapaths[dp.ID()] = dp
	count := len(r.datapaths)
	r.mu.Unlock()

	if exists {
		log.Infof("Register, replaced connection of switch %v", dp.ID())
	} else {
		log.Infof("Register, register datapath: %v", dp.ID())
	}
	r.notify(count)
	return true
}

// Unregister removes dp only if it is still the registered connection for its id
func (r *Registry) Unregister(dp Datapath) bool {
	r.mu.Lock()
	existing, exists := r.datapaths[dp.ID()]
	if !exists || existing != dp {
		r.mu.Unlock()
		return false
	}
	delete(r.datapaths, dp.ID())
	count := len(r.datapaths)
	r.mu.Unlock()

	log.Infof("Unregister, un register datapath: %v", dp.ID())
	r.notify(count)
	return true
}

// Get returns the connection for id
func (r *Registry) Get(id common.DPID) (Datapath, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	dp, exists := r.datapaths[id]
	return dp, exists
}

// Lookup is Get with an error for callers that propagate failures
func (r *Registry) Lookup(id common.DPID) (Datapath, error) {
	dp, exists := r.Get(id)
	if !exists {
		return nil, fmt.Errorf("%w: %v", ErrNotRegistered, id)
	}
	return dp, nil
}

// List returns the registered switch ids in ascending order
func (r *Registry) List() []common.DPID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]common.DPID, 0, len(r.datapaths))
	for id := range r.datapaths {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.datapaths)
}

func (r *Registry) notify(count int) {
	if r.OnChange != nil {
		r.OnChange(count)
	}
}

// installTableMiss sends unmatched frames of a new switch to the controller
func installTableMiss(dp Datapath) {
	rule := common.FlowRule{
		Priority: 0,
		OutPort:  common.PortController,
		BufferID: common.NoBuffer,
	}
	if err := dp.InstallRule(rule); err != nil {
		log.Warningf("installTableMiss, switch %v, err: %v", dp.ID(), err)
	}
}
