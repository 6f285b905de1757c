package common

import (
	"net"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Snapshot is one consistent view of the network. It is never modified after Publish.
type Snapshot struct {
	Version    uint64
	Switches   []DPID
	PortToMAC  map[DPID]map[PortNo]string
	Links      []Link
	Bindings   PortBinding
	Hosts      []Host
	HostLocs   HostLocation
	Matrix     *Matrix
	Paths      PathTable
	PathsBuilt bool
}

// PathsFor returns the candidate paths for a pair. Missing pairs are reported as unreachable.
func (s *Snapshot) PathsFor(src, dst DPID) []Path {
	if s == nil || s.Paths == nil {
		return nil
	}
	return s.Paths[Pair{Src: src, Dst: dst}]
}

// IsHost reports whether mac is a known host
func (s *Snapshot) IsHost(mac net.HardwareAddr) bool {
	if s == nil {
		return false
	}
	_, ok := s.HostLocs.Lookup(mac)
	return ok
}

// TopologyManager owns the current snapshot. The poll loop publishes whole snapshots,
// event handlers read the latest one.
type TopologyManager struct {
	current *Snapshot
	mutex   sync.RWMutex
}

func NewTopologyManager() *TopologyManager {
	return &TopologyManager{
		current: &Snapshot{},
	}
}

// Current returns the latest published snapshot; callers must treat it as read-only
func (tm *TopologyManager) Current() *Snapshot {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	return tm.current
}

// Publish replaces the current snapshot and stamps it with the next version
func (tm *TopologyManager) Publish(snap *Snapshot) *Snapshot {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	snap.Version = tm.current.Version + 1
	tm.current = snap

	log.Debugf("Publish, version: %d, switch num: %d, link num: %d, host num: %d, pair num: %d",
		snap.Version, len(snap.Switches), len(snap.Links), len(snap.Hosts), len(snap.Paths))
	return snap
}

// IsInitialized reports whether a path table has been built at least once
func (tm *TopologyManager) IsInitialized() bool {
	tm.mutex.RLock()
	defer tm.mutex.RUnlock()
	return tm.current.PathsBuilt
}
