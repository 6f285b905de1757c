package topology

import (
	"context"
	"sort"

	"pathfinder/common"

	log "github.com/sirupsen/logrus"
)

// Tables is the normalized result of one topology query round
type Tables struct {
	Switches  []common.DPID
	PortToMAC map[common.DPID]map[common.PortNo]string
	Links     []common.Link
	Bindings  common.PortBinding
	Hosts     []common.Host
	HostLocs  common.HostLocation
}

// Builder keeps the latest tables between poll rounds. It is owned by a single poll loop.
type Builder struct {
	tables Tables
}

func NewBuilder() *Builder {
	return &Builder{}
}

// Tables returns the tables produced by the last Refresh
func (b *Builder) Tables() Tables {
	return b.tables
}

// Refresh queries the source and replaces each table that came back non-empty.
// An empty or failed query keeps the previous table.
func (b *Builder) Refresh(ctx context.Context, src Source) Tables {
	switches, err := src.ListSwitches(ctx)
	if err != nil {
		log.Warningf("Refresh, list switches failed, keeping %d known switches, err: %v", len(b.tables.Switches), err)
	} else if len(switches) > 0 {
		b.tables.Switches, b.tables.PortToMAC = normalizeSwitches(switches)
	}

	links, err := src.ListLinks(ctx)
	if err != nil {
		log.Warningf("Refresh, list links failed, keeping %d known links, err: %v", len(b.tables.Links), err)
	} else if len(links) > 0 {
		b.tables.Links, b.tables.Bindings = normalizeLinks(links)
	}

	hosts, err := src.ListHosts(ctx)
	if err != nil {
		log.Warningf("Refresh, list hosts failed, keeping %d known hosts, err: %v", len(b.tables.Hosts), err)
	} else if len(hosts) > 0 {
		b.tables.Hosts, b.tables.HostLocs = normalizeHosts(hosts)
	}

	log.Debugf("Refresh, switch num: %d, link num: %d, host num: %d",
		len(b.tables.Switches), len(b.tables.Links), len(b.tables.Hosts))
	return b.tables
}

func normalizeSwitches(switches []common.Switch) ([]common.DPID, map[common.DPID]map[common.PortNo]string) {
	portToMAC := make(map[common.DPID]map[common.PortNo]string, len(switches))
	for _, sw := range switches {
		ports, exists := portToMAC[sw.ID]
		if !exists {
			ports = make(map[common.PortNo]string, len(sw.Ports))
			portToMAC[sw.ID] = ports
		}
		for _, port := range sw.Ports {
			ports[port.No] = common.MACKey(port.HWAddr)
		}
	}

	ids := make([]common.DPID, 0, len(portToMAC))
	for id := range portToMAC {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, portToMAC
}

// normalizeLinks orders links and derives the port binding of every directed pair.
// With parallel links between the same pair the lowest source port wins.
func normalizeLinks(links []common.Link) ([]common.Link, common.PortBinding) {
	sorted := make([]common.Link, len(links))
	copy(sorted, links)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Src.DPID != b.Src.DPID {
			return a.Src.DPID < b.Src.DPID
		}
		if a.Dst.DPID != b.Dst.DPID {
			return a.Dst.DPID < b.Dst.DPID
		}
		if a.Src.Port != b.Src.Port {
			return a.Src.Port < b.Src.Port
		}
		return a.Dst.Port < b.Dst.Port
	})

	bindings := make(common.PortBinding, len(sorted))
	for _, link := range sorted {
		pair := common.Pair{Src: link.Src.DPID, Dst: link.Dst.DPID}
		if _, exists := bindings[pair]; exists {
			log.Debugf("normalizeLinks, parallel link ignored for binding: %v:%d -> %v:%d",
				link.Src.DPID, link.Src.Port, link.Dst.DPID, link.Dst.Port)
			continue
		}
		bindings[pair] = [2]common.PortNo{link.Src.Port, link.Dst.Port}
	}
	return sorted, bindings
}

func normalizeHosts(hosts []common.Host) ([]common.Host, common.HostLocation) {
	locs := make(common.HostLocation, len(hosts))
	list := make([]common.Host, 0, len(hosts))
	index := make(map[string]int, len(hosts))
	for _, host := range hosts {
		if len(host.MAC) == 0 {
			continue
		}
		key := common.MACKey(host.MAC)
		// a later report of the same MAC replaces the earlier one
		if i, exists := index[key]; exists {
			list[i] = host
		} else {
			index[key] = len(list)
			list = append(list, host)
		}
		locs[key] = host.Location
	}
	return list, locs
}
