package provisioner

import (
	"errors"
	"fmt"
	"net"

	"pathfinder/common"
	"pathfinder/metrics"
	"pathfinder/routing"
	"pathfinder/switches"

	log "github.com/sirupsen/logrus"
)

var (
	ErrUnreachable = errors.New("unreachable")
	ErrUnknownHost = errors.New("unknown host")
)

const (
	DefaultPriority    uint16 = 0x8000
	DefaultIdleTimeout uint16 = 1000
	DefaultHardTimeout uint16 = 0
)

// RuleOptions are applied to every rule this package installs
type RuleOptions struct {
	Priority    uint16
	IdleTimeout uint16
	HardTimeout uint16
}

func DefaultRuleOptions() RuleOptions {
	return RuleOptions{
		Priority:    DefaultPriority,
		IdleTimeout: DefaultIdleTimeout,
		HardTimeout: DefaultHardTimeout,
	}
}

// Flow holds the addresses of an observed frame. Rules are installed for the opposite
// direction: they match frames addressed to Src and carry them from the Dst host to the Src host.
type Flow struct {
	Src net.HardwareAddr
	Dst net.HardwareAddr
}

func (f Flow) String() string {
	return fmt.Sprintf("%v -> %v", f.Dst, f.Src)
}

// Result counts the hops handled by one provisioning call
type Result struct {
	Installed int
	Skipped   int
}

// DatapathLookup resolves a switch id to its live connection
type DatapathLookup interface {
	Get(id common.DPID) (switches.Datapath, bool)
}

// Provisioner translates paths into per-switch forwarding rules
type Provisioner struct {
	datapaths DatapathLookup
	selector  routing.Selector
	options   RuleOptions
}

func New(datapaths DatapathLookup, selector routing.Selector, options RuleOptions) *Provisioner {
	if selector == nil {
		selector = routing.SelectorByName(routing.DefaultSelector)
	}
	return &Provisioner{
		datapaths: datapaths,
		selector:  selector,
		options:   options,
	}
}

// Provision installs rules between the two hosts of flow. Hosts on the same switch get a
// single rule; otherwise one path from the Dst host's switch to the Src host's switch is
// selected and every hop is programmed. Nothing is installed when the pair is unreachable.
func (p *Provisioner) Provision(snap *common.Snapshot, flow Flow) (Result, error) {
	srcLoc, srcKnown := snap.HostLocs.Lookup(flow.Src)
	dstLoc, dstKnown := snap.HostLocs.Lookup(flow.Dst)
	if !srcKnown || !dstKnown {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownHost, flow)
	}

	if srcLoc.DPID == dstLoc.DPID {
		return p.InstallSameSwitch(snap, flow), nil
	}

	paths := snap.PathsFor(dstLoc.DPID, srcLoc.DPID)
	path, ok := p.selector.Select(paths)
	if !ok || len(path) == 0 {
		metrics.Unreachable.Inc()
		return Result{}, fmt.Errorf("%w: switch %v -> switch %v (%s)", ErrUnreachable, dstLoc.DPID, srcLoc.DPID, flow)
	}

	log.Debugf("Provision, flow: %s, candidates: %d, selected: %v", flow, len(paths), path)
	return p.InstallPath(snap, path, flow), nil
}

// InstallSameSwitch installs the single rule used when both hosts share a switch
func (p *Provisioner) InstallSameSwitch(snap *common.Snapshot, flow Flow) Result {
	dstLoc, ok := snap.HostLocs.Lookup(flow.Dst)
	if !ok {
		metrics.RulesSkipped.WithLabelValues(metrics.SkipNoHost).Inc()
		return Result{Skipped: 1}
	}
	return p.InstallPath(snap, common.Path{dstLoc.DPID}, flow)
}

// InstallPath installs one rule per hop of path. path[0] is the Dst host's switch and the
// last element the Src host's switch. Hops that cannot be resolved are skipped; hops already
// installed are kept.
func (p *Provisioner) InstallPath(snap *common.Snapshot, path common.Path, flow Flow) Result {
	var result Result
	for i, dpid := range path {
		inPort, outPort, reason := p.hopPorts(snap, path, i, flow)
		if reason != "" {
			log.Warningf("InstallPath, skip hop %d (switch %v) of %v for %s: %s", i, dpid, path, flow, reason)
			metrics.RulesSkipped.WithLabelValues(reason).Inc()
			result.Skipped++
			continue
		}

		dp, exists := p.datapaths.Get(dpid)
		if !exists {
			log.Debugf("InstallPath, switch %v not registered, skip hop %d of %v", dpid, i, path)
			metrics.RulesSkipped.WithLabelValues(metrics.SkipUnregistered).Inc()
			result.Skipped++
			continue
		}

		rule := p.rule(inPort, outPort, flow.Src)
		if err := dp.InstallRule(rule); err != nil {
			log.Warningf("InstallPath, install on switch %v failed, err: %v", dpid, err)
			metrics.RulesSkipped.WithLabelValues(metrics.SkipInstallError).Inc()
			result.Skipped++
			continue
		}
		metrics.RulesInstalled.Inc()
		result.Installed++
		log.Debugf("InstallPath, switch %v: in_port=%d eth_dst=%v -> out_port=%d", dpid, inPort, flow.Src, outPort)
	}

	log.Infof("InstallPath, flow: %s, path: %v, installed: %d, skipped: %d", flow, path, result.Installed, result.Skipped)
	return result
}

// InstallLocal installs a rule on a single switch with the configured priority and timeouts
func (p *Provisioner) InstallLocal(dp switches.Datapath, inPort, outPort common.PortNo, ethDst net.HardwareAddr) error {
	if err := dp.InstallRule(p.rule(inPort, outPort, ethDst)); err != nil {
		metrics.RulesSkipped.WithLabelValues(metrics.SkipInstallError).Inc()
		return err
	}
	metrics.RulesInstalled.Inc()
	return nil
}

func (p *Provisioner) rule(inPort, outPort common.PortNo, ethDst net.HardwareAddr) common.FlowRule {
	return common.FlowRule{
		Priority:    p.options.Priority,
		Match:       common.Match{InPort: inPort, EthDst: ethDst},
		OutPort:     outPort,
		BufferID:    common.NoBuffer,
		IdleTimeout: p.options.IdleTimeout,
		HardTimeout: p.options.HardTimeout,
	}
}

// hopPorts resolves the ingress and egress port of hop i. A non-empty reason means the
// hop cannot be programmed.
func (p *Provisioner) hopPorts(snap *common.Snapshot, path common.Path, i int, flow Flow) (common.PortNo, common.PortNo, string) {
	var inPort, outPort common.PortNo
	last := len(path) - 1

	if i == 0 {
		loc, ok := snap.HostLocs.Lookup(flow.Dst)
		if !ok {
			return 0, 0, metrics.SkipNoHost
		}
		inPort = loc.Port
	} else {
		ports, ok := snap.Bindings[common.Pair{Src: path[i-1], Dst: path[i]}]
		if !ok {
			return 0, 0, metrics.SkipNoBinding
		}
		inPort = ports[1]
	}

	if i == last {
		loc, ok := snap.HostLocs.Lookup(flow.Src)
		if !ok {
			return 0, 0, metrics.SkipNoHost
		}
		outPort = loc.Port
	} else {
		ports, ok := snap.Bindings[common.Pair{Src: path[i], Dst: path[i+1]}]
		if !ok {
			return 0, 0, metrics.SkipNoBinding
		}
		outPort = ports[0]
	}

	return inPort, outPort, ""
}
