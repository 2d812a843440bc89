package classify

import (
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/xkilldash9x/delver/api/schemas"
)

// Thresholds above which repeated traffic is reported.
const (
	BeaconThreshold = 15
	ICMPThreshold   = 20
)

var badPorts = map[int]bool{
	21: true, 23: true, 69: true, 1337: true, 4444: true, 8081: true, 9001: true, 9002: true,
}

var suspiciousProtocols = map[string]bool{
	"IRC": true, "FTP": true, "TFTP": true, "TELNET": true, "SSH": true, "SMB": true, "ICMP": true,
}

var privateBlocks = func() []*net.IPNet {
	var blocks []*net.IPNet
	for _, cidr := range []string{"10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16"} {
		_, block, _ := net.ParseCIDR(cidr)
		blocks = append(blocks, block)
	}
	return blocks
}()

// isPublic reports whether dst is a routable address outside RFC 1918.
// Unparseable destinations are never public.
func isPublic(dst string) bool {
	ip := net.ParseIP(dst)
	if ip == nil || ip.IsUnspecified() {
		return false
	}
	for _, block := range privateBlocks {
		if block.Contains(ip) {
			return false
		}
	}
	return true
}

// NetworkClassifier flags suspicious protocols and ports, beaconing and
// external communication.
type NetworkClassifier struct{}

func (NetworkClassifier) Surface() schemas.Surface { return schemas.SurfaceNetwork }

// Classify emits one finding per packet followed by the aggregate findings:
// beaconing hosts, heavy ICMP, suspicious ports and the external summary.
func (NetworkClassifier) Classify(events []schemas.RawEvent) []schemas.Finding {
	var out []schemas.Finding
	perHost := make(map[string]int)
	perProto := make(map[string]int)
	ports := make(map[int]bool)

	for _, ev := range events {
		proto := strings.ToUpper(ev.Protocol)
		app := strings.ToUpper(ev.AppProtocol)
		perProto[proto]++
		if isPublic(ev.Dst) {
			perHost[ev.Dst]++
		}

		flagged := false
		switch {
		case suspiciousProtocols[proto]:
			out = append(out, protocolFinding(ev, proto))
			flagged = true
		case suspiciousProtocols[app]:
			out = append(out, protocolFinding(ev, app))
			flagged = true
		}
		if badPorts[ev.Port] {
			ports[ev.Port] = true
			flagged = true
		}

		if !flagged {
			category := proto
			if category == "" {
				category = "Network"
			}
			out = append(out, schemas.Finding{
				Surface:     schemas.SurfaceNetwork,
				Category:    category,
				Description: "No suspicious network activity detected",
				RiskLevel:   schemas.RiskSafe,
				Details:     details(ev, nil),
			})
		}
	}

	hosts := make([]string, 0, len(perHost))
	for host := range perHost {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	for _, host := range hosts {
		if count := perHost[host]; count > BeaconThreshold {
			out = append(out, schemas.Finding{
				Surface:     schemas.SurfaceNetwork,
				Category:    "Beaconing",
				Description: "Repeated comms to " + host,
				RiskLevel:   schemas.RiskHigh,
				Details:     map[string]any{"host": host, "count": count},
			})
		}
	}

	if count := perProto["ICMP"]; count > ICMPThreshold {
		out = append(out, schemas.Finding{
			Surface:     schemas.SurfaceNetwork,
			Category:    "HeavyICMP",
			Description: "Elevated ICMP activity",
			RiskLevel:   schemas.RiskMedium,
			Details:     map[string]any{"count": count},
		})
	}

	sortedPorts := make([]int, 0, len(ports))
	for p := range ports {
		sortedPorts = append(sortedPorts, p)
	}
	sort.Ints(sortedPorts)
	for _, p := range sortedPorts {
		out = append(out, schemas.Finding{
			Surface:     schemas.SurfaceNetwork,
			Category:    "SuspiciousPort",
			Description: fmt.Sprintf("Traffic on suspicious port: %d", p),
			RiskLevel:   schemas.RiskMedium,
			Details:     map[string]any{"port": p},
		})
	}

	if len(hosts) > 0 {
		counts := make(map[string]any, len(hosts))
		for _, host := range hosts {
			counts[host] = perHost[host]
		}
		out = append(out, schemas.Finding{
			Surface:     schemas.SurfaceNetwork,
			Category:    "ExternalComm",
			Description: fmt.Sprintf("Outbound communication to %d external IPs.", len(hosts)),
			RiskLevel:   schemas.RiskMedium,
			Details:     counts,
		})
	}
	return out
}

func protocolFinding(ev schemas.RawEvent, proto string) schemas.Finding {
	return schemas.Finding{
		Surface:     schemas.SurfaceNetwork,
		Category:    "SuspiciousProtocol",
		Description: "Suspicious protocol detected: " + proto,
		RiskLevel:   schemas.RiskMedium,
		Details:     details(ev, nil),
	}
}
