package southbound

import (
	"errors"
	"net"

	"pathfinder/packet_in"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

var ErrNotEthernet = errors.New("frame has no ethernet header")

// DecodeFrame parses the ethernet header of data and, when present, its ARP payload
func DecodeFrame(data []byte) (packetin.EthernetHeader, *packetin.ARP, error) {
	var header packetin.EthernetHeader

	pkt := gopacket.NewPacket(data, layers.LayerTypeEthernet, gopacket.NoCopy)
	ethLayer, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if !ok {
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return header, nil, errors.Join(ErrNotEthernet, errLayer.Error())
		}
		return header, nil, ErrNotEthernet
	}
	header.Src = ethLayer.SrcMAC
	header.Dst = ethLayer.DstMAC
	header.EtherType = uint16(ethLayer.EthernetType)

	arpLayer, ok := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if !ok {
		return header, nil, nil
	}
	return header, &packetin.ARP{
		Operation: arpLayer.Operation,
		SenderMAC: net.HardwareAddr(arpLayer.SourceHwAddress),
		SenderIP:  net.IP(arpLayer.SourceProtAddress),
		TargetMAC: net.HardwareAddr(arpLayer.DstHwAddress),
		TargetIP:  net.IP(arpLayer.DstProtAddress),
	}, nil
}
