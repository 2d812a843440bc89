//go:build windows

package collector

import (
	"fmt"
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// pcapFlagLoopback is PCAP_IF_LOOPBACK.
const pcapFlagLoopback = 0x00000001

// npcapCapturer captures through Npcap.
type npcapCapturer struct{}

// NewCapturer returns the capturer for this platform.
func NewCapturer() (Capturer, error) {
	return npcapCapturer{}, nil
}

func (npcapCapturer) Interfaces() ([]CaptureInterface, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}
	var out []CaptureInterface
	for _, dev := range devs {
		if dev.Flags&pcapFlagLoopback != 0 || len(dev.Addresses) == 0 {
			continue
		}
		ci := CaptureInterface{Name: dev.Name}
		for _, a := range dev.Addresses {
			if a.IP != nil && !a.IP.Equal(net.IPv4zero) {
				ci.Addrs = append(ci.Addrs, a.IP)
			}
		}
		out = append(out, ci)
	}
	return sortedInterfaces(out), nil
}

func (npcapCapturer) Open(name string, snaplen int, timeout time.Duration) (PacketSource, error) {
	h, err := pcap.OpenLive(name, int32(snaplen), false, timeout)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return pcapSource{h: h}, nil
}

type pcapSource struct {
	h *pcap.Handle
}

func (s pcapSource) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	data, ci, err := s.h.ReadPacketData()
	if err == pcap.NextErrorTimeoutExpired {
		return nil, ci, errReadTimeout
	}
	return data, ci, err
}

func (s pcapSource) LinkType() layers.LinkType { return s.h.LinkType() }

func (s pcapSource) Close() { s.h.Close() }
