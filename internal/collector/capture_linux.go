//go:build linux

package collector

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// afPacketCapturer captures with AF_PACKET sockets. It needs CAP_NET_RAW.
type afPacketCapturer struct{}

// NewCapturer returns the capturer for this platform.
func NewCapturer() (Capturer, error) {
	return afPacketCapturer{}, nil
}

func (afPacketCapturer) Interfaces() ([]CaptureInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	var out []CaptureInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		ci := CaptureInterface{Name: iface.Name}
		if addrs, err := iface.Addrs(); err == nil {
			for _, a := range addrs {
				if ipnet, ok := a.(*net.IPNet); ok {
					ci.Addrs = append(ci.Addrs, ipnet.IP)
				}
			}
		}
		out = append(out, ci)
	}
	return sortedInterfaces(out), nil
}

// Open ignores timeout; AF_PACKET reads block until a packet arrives.
func (afPacketCapturer) Open(name string, snaplen int, _ time.Duration) (PacketSource, error) {
	h, err := pcapgo.NewEthernetHandle(name)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if err := h.SetCaptureLength(snaplen); err != nil {
		h.Close()
		return nil, fmt.Errorf("set snaplen on %s: %w", name, err)
	}
	return ethernetSource{h: h}, nil
}

type ethernetSource struct {
	h *pcapgo.EthernetHandle
}

func (s ethernetSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	return s.h.ReadPacketData()
}

func (s ethernetSource) LinkType() layers.LinkType { return layers.LinkTypeEthernet }

func (s ethernetSource) Close() { s.h.Close() }
