package packetin

import (
	"fmt"
	"net"
	"time"

	"pathfinder/common"

	"github.com/patrickmn/go-cache"
)

// LearningTable remembers on which port each switch last saw a source MAC.
// Entries never expire when ttl is zero.
type LearningTable struct {
	entries *cache.Cache
}

func NewLearningTable(ttl time.Duration) *LearningTable {
	if ttl <= 0 {
		return &LearningTable{entries: cache.New(cache.NoExpiration, 0)}
	}
	return &LearningTable{entries: cache.New(ttl, 2*ttl)}
}

func learningKey(dpid common.DPID, mac net.HardwareAddr) string {
	return fmt.Sprintf("%d/%s", uint64(dpid), common.MACKey(mac))
}

// Learn records that mac is reachable through port on switch dpid
func (l *LearningTable) Learn(dpid common.DPID, mac net.HardwareAddr, port common.PortNo) {
	l.entries.Set(learningKey(dpid, mac), port, cache.DefaultExpiration)
}

// Lookup returns the port mac was learned on
func (l *LearningTable) Lookup(dpid common.DPID, mac net.HardwareAddr) (common.PortNo, bool) {
	v, found := l.entries.Get(learningKey(dpid, mac))
	if !found {
		return 0, false
	}
	return v.(common.PortNo), true
}

func (l *LearningTable) Len() int {
	return l.entries.ItemCount()
}
