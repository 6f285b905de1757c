package packetin

import (
	"errors"
	"net"

	"pathfinder/common"
	"pathfinder/metrics"
	"pathfinder/provisioner"
	"pathfinder/switches"

	log "github.com/sirupsen/logrus"
)

const (
	EtherTypeARP  uint16 = 0x0806
	EtherTypeLLDP uint16 = 0x88cc

	ARPRequest uint16 = 1
	ARPReply   uint16 = 2
)

type EthernetHeader struct {
	Src       net.HardwareAddr
	Dst       net.HardwareAddr
	EtherType uint16
}

type ARP struct {
	Operation uint16
	SenderMAC net.HardwareAddr
	SenderIP  net.IP
	TargetMAC net.HardwareAddr
	TargetIP  net.IP
}

// PacketIn is a frame a switch sent to the controller
type PacketIn struct {
	DPID     common.DPID
	InPort   common.PortNo
	BufferID uint32
	Ethernet EthernetHeader
	ARP      *ARP // nil unless the frame carries ARP
	Data     []byte
}

// SnapshotReader returns the current topology snapshot
type SnapshotReader interface {
	Current() *common.Snapshot
}

// Router handles frames sent to the controller: MAC learning and flooding as a fallback,
// and proactive path provisioning when an ARP reply shows two known hosts talking.
type Router struct {
	datapaths   provisioner.DatapathLookup
	topology    SnapshotReader
	provisioner *provisioner.Provisioner
	learning    *LearningTable
}

func NewRouter(datapaths provisioner.DatapathLookup, topology SnapshotReader,
	prov *provisioner.Provisioner, learning *LearningTable) *Router {
	return &Router{
		datapaths:   datapaths,
		topology:    topology,
		provisioner: prov,
		learning:    learning,
	}
}

// HandlePacketIn is the frame-arrival hook
func (r *Router) HandlePacketIn(ev PacketIn) {
	eth := ev.Ethernet
	if eth.EtherType == EtherTypeLLDP {
		metrics.PacketIns.WithLabelValues("lldp").Inc()
		return
	}
	metrics.PacketIns.WithLabelValues("data").Inc()

	r.learning.Learn(ev.DPID, eth.Src, ev.InPort)

	if dp, exists := r.datapaths.Get(ev.DPID); exists {
		r.forward(dp, ev)
	} else {
		log.Debugf("HandlePacketIn, switch %v not registered, not forwarding frame %v -> %v", ev.DPID, eth.Src, eth.Dst)
	}

	if ev.ARP != nil && ev.ARP.Operation == ARPReply {
		metrics.PacketIns.WithLabelValues("arp_reply").Inc()
		r.provisionReply(ev)
	}
}

// forward is the learning-switch fallback on the switch the frame arrived on
func (r *Router) forward(dp switches.Datapath, ev PacketIn) {
	eth := ev.Ethernet
	outPort, known := r.learning.Lookup(ev.DPID, eth.Dst)
	if !known {
		outPort = common.PortFlood
	}

	if outPort != common.PortFlood {
		if err := r.provisioner.InstallLocal(dp, ev.InPort, outPort, eth.Dst); err != nil {
			log.Warningf("forward, install local rule on switch %v failed, err: %v", ev.DPID, err)
		}
	}

	out := common.PacketOut{
		InPort:   ev.InPort,
		OutPort:  outPort,
		BufferID: ev.BufferID,
	}
	if ev.BufferID == common.NoBuffer {
		out.Data = ev.Data
	}
	if err := dp.EmitFrame(out); err != nil {
		log.Warningf("forward, emit frame on switch %v failed, err: %v", ev.DPID, err)
	}
}

// provisionReply programs the path between the two hosts of an ARP reply
func (r *Router) provisionReply(ev PacketIn) {
	snap := r.topology.Current()
	src, dst := ev.Ethernet.Src, ev.Ethernet.Dst

	srcLoc, srcKnown := snap.HostLocs.Lookup(src)
	dstLoc, dstKnown := snap.HostLocs.Lookup(dst)
	if !srcKnown || !dstKnown {
		log.Debugf("provisionReply, %v -> %v: host not known yet", src, dst)
		return
	}

	flow := provisioner.Flow{Src: src, Dst: dst}
	if srcLoc.DPID == dstLoc.DPID {
		r.provisioner.InstallSameSwitch(snap, flow)
		return
	}
	if ev.DPID != dstLoc.DPID {
		return
	}

	if _, err := r.provisioner.Provision(snap, flow); err != nil {
		if errors.Is(err, provisioner.ErrUnreachable) {
			log.Infof("provisionReply, %s: unreachable", flow)
			return
		}
		log.Warningf("provisionReply, %s: %v", flow, err)
	}
}
