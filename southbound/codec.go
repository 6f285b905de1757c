package southbound

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"

	"pathfinder/common"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	MsgHello     = "hello"
	MsgPacketIn  = "packet_in"
	MsgFlowMod   = "flow_mod"
	MsgPacketOut = "packet_out"

	MaxMessageSize = 1 << 20
)

var (
	ErrMessageTooLarge = errors.New("southbound message too large")
	ErrBadMessage      = errors.New("malformed southbound message")
)

// WriteMessage writes msg as a 4-byte big-endian length followed by the encoded struct
func WriteMessage(w io.Writer, msg *structpb.Struct) error {
	body, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if len(body) > MaxMessageSize {
		return ErrMessageTooLarge
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf, uint32(len(body)))
	copy(buf[4:], body)
	_, err = w.Write(buf)
	return err
}

func ReadMessage(r io.Reader) (*structpb.Struct, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxMessageSize {
		return nil, ErrMessageTooLarge
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(body, msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return msg, nil
}

func MessageType(msg *structpb.Struct) string {
	return msg.GetFields()["type"].GetStringValue()
}

func EncodeHello(id common.DPID) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"type": MsgHello,
		"dpid": id.String(),
	})
}

func DecodeHello(msg *structpb.Struct) (common.DPID, error) {
	if MessageType(msg) != MsgHello {
		return 0, fmt.Errorf("%w: expected %s, got %q", ErrBadMessage, MsgHello, MessageType(msg))
	}
	raw := msg.GetFields()["dpid"].GetStringValue()
	id, err := strconv.ParseUint(raw, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: dpid %q", ErrBadMessage, raw)
	}
	return common.DPID(id), nil
}

// RawPacketIn is a packet_in message before its frame is decoded
type RawPacketIn struct {
	InPort   common.PortNo
	BufferID uint32
	Data     []byte
}

func EncodePacketIn(in RawPacketIn) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"type":      MsgPacketIn,
		"in_port":   uint32(in.InPort),
		"buffer_id": in.BufferID,
		"data":      in.Data,
	})
}

func DecodePacketIn(msg *structpb.Struct) (RawPacketIn, error) {
	var in RawPacketIn
	if MessageType(msg) != MsgPacketIn {
		return in, fmt.Errorf("%w: expected %s, got %q", ErrBadMessage, MsgPacketIn, MessageType(msg))
	}
	inPort, err := uint32Field(msg, "in_port")
	if err != nil {
		return in, err
	}
	bufferID, err := uint32Field(msg, "buffer_id")
	if err != nil {
		return in, err
	}
	data, err := bytesField(msg, "data")
	if err != nil {
		return in, err
	}
	in.InPort = common.PortNo(inPort)
	in.BufferID = bufferID
	in.Data = data
	return in, nil
}

func EncodeFlowRule(rule common.FlowRule) (*structpb.Struct, error) {
	ethDst := ""
	if len(rule.Match.EthDst) > 0 {
		ethDst = rule.Match.EthDst.String()
	}
	return structpb.NewStruct(map[string]interface{}{
		"type":         MsgFlowMod,
		"priority":     uint32(rule.Priority),
		"in_port":      uint32(rule.Match.InPort),
		"eth_dst":      ethDst,
		"out_port":     uint32(rule.OutPort),
		"buffer_id":    rule.BufferID,
		"idle_timeout": uint32(rule.IdleTimeout),
		"hard_timeout": uint32(rule.HardTimeout),
	})
}

func DecodeFlowRule(msg *structpb.Struct) (common.FlowRule, error) {
	var rule common.FlowRule
	if MessageType(msg) != MsgFlowMod {
		return rule, fmt.Errorf("%w: expected %s, got %q", ErrBadMessage, MsgFlowMod, MessageType(msg))
	}

	values := make(map[string]uint32)
	for _, key := range []string{"priority", "in_port", "out_port", "buffer_id", "idle_timeout", "hard_timeout"} {
		v, err := uint32Field(msg, key)
		if err != nil {
			return rule, err
		}
		values[key] = v
	}

	if raw := msg.GetFields()["eth_dst"].GetStringValue(); raw != "" {
		mac, err := net.ParseMAC(raw)
		if err != nil {
			return rule, fmt.Errorf("%w: eth_dst %q", ErrBadMessage, raw)
		}
		rule.Match.EthDst = mac
	}
	rule.Priority = uint16(values["priority"])
	rule.Match.InPort = common.PortNo(values["in_port"])
	rule.OutPort = common.PortNo(values["out_port"])
	rule.BufferID = values["buffer_id"]
	rule.IdleTimeout = uint16(values["idle_timeout"])
	rule.HardTimeout = uint16(values["hard_timeout"])
	return rule, nil
}

func EncodePacketOut(out common.PacketOut) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"type":      MsgPacketOut,
		"in_port":   uint32(out.InPort),
		"out_port":  uint32(out.OutPort),
		"buffer_id": out.BufferID,
	}
	if len(out.Data) > 0 {
		fields["data"] = out.Data
	}
	return structpb.NewStruct(fields)
}

func DecodePacketOut(msg *structpb.Struct) (common.PacketOut, error) {
	var out common.PacketOut
	if MessageType(msg) != MsgPacketOut {
		return out, fmt.Errorf("%w: expected %s, got %q", ErrBadMessage, MsgPacketOut, MessageType(msg))
	}
	inPort, err := uint32Field(msg, "in_port")
	if err != nil {
		return out, err
	}
	outPort, err := uint32Field(msg, "out_port")
	if err != nil {
		return out, err
	}
	bufferID, err := uint32Field(msg, "buffer_id")
	if err != nil {
		return out, err
	}
	out.InPort = common.PortNo(inPort)
	out.OutPort = common.PortNo(outPort)
	out.BufferID = bufferID
	if _, ok := msg.GetFields()["data"]; ok {
		if out.Data, err = bytesField(msg, "data"); err != nil {
			return out, err
		}
	}
	return out, nil
}

func uint32Field(msg *structpb.Struct, key string) (uint32, error) {
	v, ok := msg.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: missing %s", ErrBadMessage, key)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue > 0xffffffff {
		return 0, fmt.Errorf("%w: %s is not a uint32", ErrBadMessage, key)
	}
	return uint32(n.NumberValue), nil
}

// structpb stores []byte as a base64 string
func bytesField(msg *structpb.Struct, key string) ([]byte, error) {
	v, ok := msg.GetFields()[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrBadMessage, key)
	}
	data, err := base64.StdEncoding.DecodeString(v.GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadMessage, key, err)
	}
	return data, nil
}
