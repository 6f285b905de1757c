package southbound

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"pathfinder/common"
	"pathfinder/packet_in"
	"pathfinder/switches"

	log "github.com/sirupsen/logrus"
	"github.com/xtaci/smux"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	HandshakeTimeout = 10 * time.Second
	WriteTimeout     = 5 * time.Second
)

var ErrHandshake = errors.New("southbound handshake failed")

func DefaultSmuxConfig() *smux.Config {
	return &smux.Config{
		Version:           1,
		KeepAliveInterval: 5 * time.Second,
		KeepAliveTimeout:  30 * time.Second,
		MaxFrameSize:      65535,
		MaxReceiveBuffer:  4194304,
		MaxStreamBuffer:   131072,
	}
}

// Datapath is a connected switch agent. Every command opens its own stream.
type Datapath struct {
	id      common.DPID
	session *smux.Session
}

func (d *Datapath) ID() common.DPID { return d.id }

func (d *Datapath) InstallRule(rule common.FlowRule) error {
	msg, err := EncodeFlowRule(rule)
	if err != nil {
		return err
	}
	return d.send(msg)
}

func (d *Datapath) EmitFrame(out common.PacketOut) error {
	msg, err := EncodePacketOut(out)
	if err != nil {
		return err
	}
	return d.send(msg)
}

func (d *Datapath) Close() error {
	return d.session.Close()
}

func (d *Datapath) send(msg *structpb.Struct) error {
	stream, err := d.session.OpenStream()
	if err != nil {
		return fmt.Errorf("open stream to switch %v: %w", d.id, err)
	}
	defer stream.Close()

	if err := stream.SetWriteDeadline(time.Now().Add(WriteTimeout)); err != nil {
		return err
	}
	if err := WriteMessage(stream, msg); err != nil {
		return fmt.Errorf("write %s to switch %v: %w", MessageType(msg), d.id, err)
	}
	return nil
}

// Server accepts switch agent connections
type Server struct {
	config *smux.Config

	// OnStateChange is the datapath lifecycle hook
	OnStateChange func(dp switches.Datapath, state switches.State)
	// OnPacketIn is the frame-arrival hook
	OnPacketIn func(ev packetin.PacketIn)

	mu       sync.Mutex
	sessions map[*smux.Session]struct{}
	wg       sync.WaitGroup
}

func NewServer(config *smux.Config) *Server {
	if config == nil {
		config = DefaultSmuxConfig()
	}
	return &Server{
		config:   config,
		sessions: make(map[*smux.Session]struct{}),
	}
}

func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("southbound listen on %s: %w", addr, err)
	}
	log.Infof("ListenAndServe, southbound listening on %s", ln.Addr())
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes every session
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	defer func() {
		s.closeSessions()
		s.wg.Wait()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("southbound accept: %w", err)
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.ServeConn(conn); err != nil {
				log.Warningf("Serve, connection from %s: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

// ServeConn runs one agent session until it closes
func (s *Server) ServeConn(conn net.Conn) error {
	session, err := smux.Server(conn, s.config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smux server: %w", err)
	}
	if !s.track(session) {
		session.Close()
		return nil
	}
	defer s.untrack(session)
	defer session.Close()

	control, err := session.AcceptStream()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	defer control.Close()

	if err := control.SetReadDeadline(time.Now().Add(HandshakeTimeout)); err != nil {
		return err
	}
	hello, err := ReadMessage(control)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	id, err := DecodeHello(hello)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := control.SetReadDeadline(time.Time{}); err != nil {
		return err
	}

	dp := &Datapath{id: id, session: session}
	log.Infof("ServeConn, switch %v connected from %s", id, conn.RemoteAddr())
	s.notify(dp, switches.StateActive)
	defer func() {
		log.Infof("ServeConn, switch %v disconnected", id)
		s.notify(dp, switches.StateDead)
	}()

	for {
		msg, err := ReadMessage(control)
		if err != nil {
			if errors.Is(err, ErrBadMessage) {
				log.Warningf("ServeConn, switch %v: %v", id, err)
				continue
			}
			return nil
		}
		s.handleMessage(id, msg)
	}
}

func (s *Server) handleMessage(id common.DPID, msg *structpb.Struct) {
	if MessageType(msg) != MsgPacketIn {
		log.Debugf("handleMessage, switch %v: ignoring %q", id, MessageType(msg))
		return
	}
	raw, err := DecodePacketIn(msg)
	if err != nil {
		log.Warningf("handleMessage, switch %v: %v", id, err)
		return
	}
	eth, arp, err := DecodeFrame(raw.Data)
	if err != nil {
		log.Debugf("handleMessage, switch %v: undecodable frame: %v", id, err)
		return
	}
	if s.OnPacketIn != nil {
		s.OnPacketIn(packetin.PacketIn{
			DPID:     id,
			InPort:   raw.InPort,
			BufferID: raw.BufferID,
			Ethernet: eth,
			ARP:      arp,
			Data:     raw.Data,
		})
	}
}

func (s *Server) notify(dp *Datapath, state switches.State) {
	if s.OnStateChange != nil {
		s.OnStateChange(dp, state)
	}
}

func (s *Server) track(session *smux.Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		return false
	}
	s.sessions[session] = struct{}{}
	return true
}

func (s *Server) untrack(session *smux.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, session)
}

func (s *Server) closeSessions() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for session := range s.sessions {
		session.Close()
	}
	s.sessions = nil
}
