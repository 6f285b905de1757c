package common

import (
	"fmt"
	"net"
	"strings"
)

// DPID identifies a switch (datapath id)
type DPID uint64

// PortNo is a switch port number
type PortNo uint32

const (
	// PortFlood outputs on every port except the ingress one
	PortFlood PortNo = 0xfffffffb
	// PortController sends the frame to the controller
	PortController PortNo = 0xfffffffd

	// NoBuffer means the switch did not buffer the frame and the raw payload must be used
	NoBuffer uint32 = 0xffffffff

	// Infinity marks a switch pair without a direct link in the adjacency matrix
	Infinity = -1
)

func (d DPID) String() string {
	return fmt.Sprintf("%016x", uint64(d))
}

// Port is one switch port and its hardware address
type Port struct {
	No     PortNo
	HWAddr net.HardwareAddr
}

// Switch is a switch as reported by the topology collaborator
type Switch struct {
	ID    DPID
	Ports []Port
}

// Endpoint is a (switch, port) location
type Endpoint struct {
	DPID DPID
	Port PortNo
}

// Link is a directed link. The reverse direction is a separate Link.
type Link struct {
	Src Endpoint
	Dst Endpoint
}

// Host is an attached end host
type Host struct {
	MAC      net.HardwareAddr
	Location Endpoint
}

// Pair is an ordered switch pair
type Pair struct {
	Src DPID
	Dst DPID
}

// Path is an ordered sequence of switches
type Path []DPID

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, id := range p {
		parts[i] = fmt.Sprintf("%d", uint64(id))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// PathTable maps every ordered switch pair (src != dst) to its minimal-hop candidate paths.
// An empty slice means the pair is unreachable.
type PathTable map[Pair][]Path

// PortBinding maps a directed switch pair to its (src port, dst port)
type PortBinding map[Pair][2]PortNo

// HostLocation maps a host MAC (canonical text form) to where it is attached
type HostLocation map[string]Endpoint

// Lookup returns the location of mac
func (h HostLocation) Lookup(mac net.HardwareAddr) (Endpoint, bool) {
	ep, ok := h[MACKey(mac)]
	return ep, ok
}

// MACKey returns the canonical map key for a hardware address
func MACKey(mac net.HardwareAddr) string {
	return strings.ToLower(mac.String())
}

// Match selects frames by ingress port and destination MAC. An empty match selects everything.
type Match struct {
	InPort PortNo
	EthDst net.HardwareAddr
}

// FlowRule is one forwarding entry pushed to a switch
type FlowRule struct {
	Priority    uint16
	Match       Match
	OutPort     PortNo
	BufferID    uint32
	IdleTimeout uint16
	HardTimeout uint16
}

// PacketOut emits a frame from a switch
type PacketOut struct {
	InPort   PortNo
	OutPort  PortNo
	BufferID uint32
	Data     []byte
}
