package southbound

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"pathfinder/common"
	"pathfinder/packet_in"
	"pathfinder/switches"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtaci/smux"
)

var (
	macX = net.HardwareAddr{0, 0, 0, 0, 0, 0x0a}
	macY = net.HardwareAddr{0, 0, 0, 0, 0, 0x0b}
)

func arpFrame(t *testing.T, op uint16, src, dst net.HardwareAddr) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       src,
		DstMAC:       dst,
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   []byte(src),
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte(dst),
		DstProtAddress:    []byte{10, 0, 0, 2},
	}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, arp))
	return buf.Bytes()
}

type events struct {
	states  chan switches.State
	dps     chan switches.Datapath
	packets chan packetin.PacketIn
}

func newServer() (*Server, *events) {
	ev := &events{
		states:  make(chan switches.State, 8),
		dps:     make(chan switches.Datapath, 8),
		packets: make(chan packetin.PacketIn, 8),
	}
	srv := NewServer(nil)
	srv.OnStateChange = func(dp switches.Datapath, state switches.State) {
		ev.dps <- dp
		ev.states <- state
	}
	srv.OnPacketIn = func(p packetin.PacketIn) { ev.packets <- p }
	return srv, ev
}

func expectState(t *testing.T, ev *events, want switches.State) switches.Datapath {
	t.Helper()
	select {
	case dp := <-ev.dps:
		assert.Equal(t, want, <-ev.states)
		return dp
	case <-time.After(2 * time.Second):
		t.Fatalf("no %v notification", want)
		return nil
	}
}

func dialAgent(t *testing.T, conn net.Conn, id common.DPID) (*smux.Session, *smux.Stream) {
	t.Helper()
	session, err := smux.Client(conn, DefaultSmuxConfig())
	require.NoError(t, err)
	control, err := session.OpenStream()
	require.NoError(t, err)
	hello, err := EncodeHello(id)
	require.NoError(t, err)
	require.NoError(t, WriteMessage(control, hello))
	return session, control
}

func TestReadMessageRejectsOversize(t *testing.T) {
	header := []byte{0x7f, 0xff, 0xff, 0xff}
	_, err := ReadMessage(bytes.NewReader(header))
	assert.ErrorIs(t, err, ErrMessageTooLarge)
}

func TestFlowRuleEncoding(t *testing.T) {
	rule := common.FlowRule{
		Priority:    0x8000,
		Match:       common.Match{InPort: 3, EthDst: macY},
		OutPort:     1,
		BufferID:    common.NoBuffer,
		IdleTimeout: 1000,
	}

	var buf bytes.Buffer
	msg, err := EncodeFlowRule(rule)
	require.NoError(t, err)
	require.NoError(t, WriteMessage(&buf, msg))

	decoded, err := ReadMessage(&buf)
	require.NoError(t, err)
	got, err := DecodeFlowRule(decoded)
	require.NoError(t, err)
	assert.Equal(t, rule, got)

	t.Run("table miss has no eth_dst", func(t *testing.T) {
		msg, err := EncodeFlowRule(common.FlowRule{OutPort: common.PortController, BufferID: common.NoBuffer})
		require.NoError(t, err)
		got, err := DecodeFlowRule(msg)
		require.NoError(t, err)
		assert.Nil(t, got.Match.EthDst)
		assert.Equal(t, common.PortController, got.OutPort)
	})

	t.Run("wrong type", func(t *testing.T) {
		msg, err := EncodeHello(1)
		require.NoError(t, err)
		_, err = DecodeFlowRule(msg)
		assert.ErrorIs(t, err, ErrBadMessage)
	})
}

func TestPacketOutKeepsData(t *testing.T) {
	msg, err := EncodePacketOut(common.PacketOut{InPort: 3, OutPort: common.PortFlood, BufferID: common.NoBuffer, Data: []byte{0xde, 0xad}})
	require.NoError(t, err)
	out, err := DecodePacketOut(msg)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad}, out.Data)

	msg, err = EncodePacketOut(common.PacketOut{InPort: 3, OutPort: 1, BufferID: 42})
	require.NoError(t, err)
	out, err = DecodePacketOut(msg)
	require.NoError(t, err)
	assert.Nil(t, out.Data)
	assert.Equal(t, uint32(42), out.BufferID)
}

func TestDecodeFrame(t *testing.T) {
	eth, arp, err := DecodeFrame(arpFrame(t, layers.ARPReply, macX, macY))
	require.NoError(t, err)
	assert.Equal(t, macX, eth.Src)
	assert.Equal(t, macY, eth.Dst)
	assert.Equal(t, packetin.EtherTypeARP, eth.EtherType)
	require.NotNil(t, arp)
	assert.Equal(t, packetin.ARPReply, arp.Operation)
	assert.Equal(t, macX, arp.SenderMAC)
	assert.Equal(t, net.IP{10, 0, 0, 2}, arp.TargetIP)

	_, _, err = DecodeFrame([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrNotEthernet)
}

func TestServeConnLifecycle(t *testing.T) {
	srv, ev := newServer()
	agentConn, serverConn := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(serverConn) }()

	session, control := dialAgent(t, agentConn, 7)
	dp := expectState(t, ev, switches.StateActive)
	assert.Equal(t, common.DPID(7), dp.ID())

	in, err := EncodePacketIn(RawPacketIn{InPort: 2, BufferID: common.NoBuffer, Data: arpFrame(t, layers.ARPReply, macX, macY)})
	require.NoError(t, err)
	require.NoError(t, WriteMessage(control, in))

	select {
	case p := <-ev.packets:
		assert.Equal(t, common.DPID(7), p.DPID)
		assert.Equal(t, common.PortNo(2), p.InPort)
		assert.Equal(t, macX, p.Ethernet.Src)
		require.NotNil(t, p.ARP)
		assert.Equal(t, packetin.ARPReply, p.ARP.Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("packet_in not delivered")
	}

	rule := common.FlowRule{Priority: 1, Match: common.Match{InPort: 2, EthDst: macX}, OutPort: 5, BufferID: common.NoBuffer}
	require.NoError(t, dp.InstallRule(rule))

	stream, err := session.AcceptStream()
	require.NoError(t, err)
	msg, err := ReadMessage(stream)
	require.NoError(t, err)
	got, err := DecodeFlowRule(msg)
	require.NoError(t, err)
	assert.Equal(t, rule, got)

	require.NoError(t, session.Close())
	expectState(t, ev, switches.StateDead)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return")
	}
}

func TestServeConnRejectsMissingHello(t *testing.T) {
	srv, ev := newServer()
	agentConn, serverConn := net.Pipe()

	done := make(chan error, 1)
	go func() { done <- srv.ServeConn(serverConn) }()

	session, err := smux.Client(agentConn, DefaultSmuxConfig())
	require.NoError(t, err)
	defer session.Close()
	control, err := session.OpenStream()
	require.NoError(t, err)
	in, err := EncodePacketIn(RawPacketIn{InPort: 1, Data: []byte{1}})
	require.NoError(t, err)
	require.NoError(t, WriteMessage(control, in))

	select {
	case err := <-done:
		assert.True(t, errors.Is(err, ErrHandshake))
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return")
	}
	assert.Empty(t, ev.states)
}

func TestServeClosesSessionsOnCancel(t *testing.T) {
	srv, ev := newServer()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	session, _ := dialAgent(t, conn, 3)
	defer session.Close()
	expectState(t, ev, switches.StateActive)

	cancel()
	expectState(t, ev, switches.StateDead)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
