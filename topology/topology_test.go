package topology

import (
	"context"
	"errors"
	"net"
	"testing"

	"pathfinder/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	switches []common.Switch
	links    []common.Link
	hosts    []common.Host
	err      error
}

func (f *fakeSource) ListSwitches(ctx context.Context) ([]common.Switch, error) {
	return f.switches, f.err
}

func (f *fakeSource) ListLinks(ctx context.Context) ([]common.Link, error) {
	return f.links, f.err
}

func (f *fakeSource) ListHosts(ctx context.Context) ([]common.Host, error) {
	return f.hosts, f.err
}

func mustMAC(t *testing.T, s string) net.HardwareAddr {
	t.Helper()
	mac, err := net.ParseMAC(s)
	require.NoError(t, err)
	return mac
}

func link(src common.DPID, srcPort common.PortNo, dst common.DPID, dstPort common.PortNo) common.Link {
	return common.Link{
		Src: common.Endpoint{DPID: src, Port: srcPort},
		Dst: common.Endpoint{DPID: dst, Port: dstPort},
	}
}

func TestBuilderRefresh(t *testing.T) {
	src := &fakeSource{
		switches: []common.Switch{
			{ID: 2, Ports: []common.Port{{No: 1, HWAddr: mustMAC(t, "aa:00:00:00:02:01")}}},
			{ID: 1, Ports: []common.Port{{No: 1, HWAddr: mustMAC(t, "AA:00:00:00:01:01")}}},
		},
		links: []common.Link{link(2, 1, 1, 1), link(1, 1, 2, 1)},
		hosts: []common.Host{
			{MAC: mustMAC(t, "00:00:00:00:00:01"), Location: common.Endpoint{DPID: 1, Port: 3}},
		},
	}

	b := NewBuilder()
	tables := b.Refresh(context.Background(), src)

	assert.Equal(t, []common.DPID{1, 2}, tables.Switches)
	assert.Equal(t, "aa:00:00:00:01:01", tables.PortToMAC[1][1])
	assert.Equal(t, link(1, 1, 2, 1), tables.Links[0])
	assert.Equal(t, [2]common.PortNo{1, 1}, tables.Bindings[common.Pair{Src: 2, Dst: 1}])

	loc, ok := tables.HostLocs.Lookup(mustMAC(t, "00:00:00:00:00:01"))
	require.True(t, ok)
	assert.Equal(t, common.Endpoint{DPID: 1, Port: 3}, loc)
}

func TestBuilderKeepsPreviousTablesOnEmptyResult(t *testing.T) {
	src := &fakeSource{
		switches: []common.Switch{{ID: 1}, {ID: 2}},
		links:    []common.Link{link(1, 1, 2, 1)},
		hosts:    []common.Host{{MAC: mustMAC(t, "00:00:00:00:00:01"), Location: common.Endpoint{DPID: 1, Port: 3}}},
	}
	b := NewBuilder()
	first := b.Refresh(context.Background(), src)

	t.Run("empty results", func(t *testing.T) {
		second := b.Refresh(context.Background(), &fakeSource{})
		assert.Equal(t, first.Switches, second.Switches)
		assert.Equal(t, first.Links, second.Links)
		assert.Equal(t, first.Hosts, second.Hosts)
	})

	t.Run("query errors", func(t *testing.T) {
		third := b.Refresh(context.Background(), &fakeSource{err: errors.New("collaborator down")})
		assert.Equal(t, first.Switches, third.Switches)
		assert.Equal(t, first.Bindings, third.Bindings)
		assert.Equal(t, first.HostLocs, third.HostLocs)
	})

	t.Run("partial update replaces only that table", func(t *testing.T) {
		fourth := b.Refresh(context.Background(), &fakeSource{switches: []common.Switch{{ID: 7}}})
		assert.Equal(t, []common.DPID{7}, fourth.Switches)
		assert.Equal(t, first.Links, fourth.Links)
	})
}

func TestNormalizeLinksParallel(t *testing.T) {
	_, bindings := normalizeLinks([]common.Link{link(1, 5, 2, 6), link(1, 2, 2, 3)})
	assert.Equal(t, [2]common.PortNo{2, 3}, bindings[common.Pair{Src: 1, Dst: 2}])
	_, exists := bindings[common.Pair{Src: 2, Dst: 1}]
	assert.False(t, exists, "reverse direction must not be invented")
}

func TestNormalizeHostsLastReportWins(t *testing.T) {
	x := mustMAC(t, "00:00:00:00:00:0a")
	y := mustMAC(t, "00:00:00:00:00:0b")
	hosts, locs := normalizeHosts([]common.Host{
		{MAC: x, Location: common.Endpoint{DPID: 1, Port: 3}},
		{MAC: y, Location: common.Endpoint{DPID: 2, Port: 4}},
		{MAC: mustMAC(t, "00:00:00:00:00:0A"), Location: common.Endpoint{DPID: 3, Port: 7}},
	})

	require.Len(t, hosts, 2)
	assert.Equal(t, common.Endpoint{DPID: 3, Port: 7}, hosts[0].Location)
	assert.Equal(t, y, hosts[1].MAC)

	loc, ok := locs.Lookup(x)
	require.True(t, ok)
	assert.Equal(t, hosts[0].Location, loc, "host list and location table agree")
}

func TestBuildMatrix(t *testing.T) {
	switches := []common.DPID{3, 1, 2, 4}
	links := []common.Link{
		link(1, 1, 2, 1),
		link(2, 1, 1, 1),
		link(2, 2, 3, 1), // only one direction reported
		link(1, 9, 99, 1),
	}

	m := BuildMatrix(switches, links)
	require.Equal(t, []common.DPID{1, 2, 3, 4}, m.IDs)

	for _, id := range m.IDs {
		w, ok := m.Weight(id, id)
		require.True(t, ok)
		assert.Equal(t, 0, w, "diagonal of %v", id)
	}

	w, _ := m.Weight(1, 2)
	assert.Equal(t, 1, w)
	w, _ = m.Weight(2, 3)
	assert.Equal(t, 1, w)
	w, _ = m.Weight(3, 2)
	assert.Equal(t, common.Infinity, w, "asymmetric link preserved")

	for _, id := range []common.DPID{1, 2, 3} {
		w, _ = m.Weight(4, id)
		assert.Equal(t, common.Infinity, w)
		w, _ = m.Weight(id, 4)
		assert.Equal(t, common.Infinity, w)
	}

	assert.Equal(t, 3, m.LinkCount())
	assert.True(t, m.Equal(BuildMatrix([]common.DPID{4, 3, 2, 1}, links)), "order independent")
}
