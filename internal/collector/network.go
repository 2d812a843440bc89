package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/xkilldash9x/delver/api/schemas"
	"github.com/xkilldash9x/delver/internal/metrics"
	"go.uber.org/zap"
)

// errReadTimeout is returned by platform packet sources when a read timed out
// without a packet. Readers retry on it.
var errReadTimeout = errors.New("packet read timeout")

// PacketSource is an open capture handle on one interface.
type PacketSource interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
	// Close releases the handle. A blocked ReadPacketData may not return
	// until the next packet arrives.
	Close()
}

// CaptureInterface is a network interface that can be captured on.
type CaptureInterface struct {
	Name  string
	Addrs []net.IP
}

// Capturer enumerates capturable interfaces and opens handles on them.
type Capturer interface {
	// Interfaces lists up, non-loopback interfaces with their addresses.
	Interfaces() ([]CaptureInterface, error)
	Open(name string, snaplen int, timeout time.Duration) (PacketSource, error)
}

// AppProtocols maps well-known destination ports to application protocols.
var AppProtocols = map[int]string{
	21:   "FTP",
	22:   "SSH",
	23:   "TELNET",
	53:   "DNS",
	69:   "TFTP",
	80:   "HTTP",
	139:  "SMB",
	194:  "IRC",
	443:  "HTTPS",
	445:  "SMB",
	6667: "IRC",
	6697: "IRC",
}

// NetworkOptions configures a NetworkCollector.
type NetworkOptions struct {
	// Ports are the suspicious destination ports. Packets to other ports are
	// ignored; packets without a transport port are always kept.
	Ports []int
	// Interfaces restricts capture to these names. Empty means all.
	Interfaces []string
	Snaplen    int
	// Interval is the read timeout of each handle.
	Interval time.Duration
	Clock    Clock
	Metrics  *metrics.Metrics
}

// NetworkCollector records outbound packets to non-local hosts.
type NetworkCollector struct {
	capturer Capturer
	ports    map[int]bool
	only     map[string]bool
	snaplen  int
	interval time.Duration
	clock    Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics

	state stateBox

	mu       sync.Mutex
	local    map[string]bool
	sources  map[string]PacketSource
	captured []schemas.RawEvent
	events   []schemas.RawEvent
}

// NewNetworkCollector builds a network collector over capturer.
func NewNetworkCollector(capturer Capturer, opts NetworkOptions, logger *zap.Logger) (*NetworkCollector, error) {
	if capturer == nil {
		return nil, errors.New("capturer cannot be nil")
	}
	if opts.Interval <= 0 {
		return nil, errors.New("network interval must be positive")
	}
	if opts.Snaplen <= 0 {
		opts.Snaplen = 65535
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	c := &NetworkCollector{
		capturer: capturer,
		ports:    make(map[int]bool, len(opts.Ports)),
		only:     make(map[string]bool, len(opts.Interfaces)),
		snaplen:  opts.Snaplen,
		interval: opts.Interval,
		clock:    clock,
		logger:   namedLogger(logger, schemas.SurfaceNetwork),
		metrics:  opts.Metrics,
		local:    make(map[string]bool),
		sources:  make(map[string]PacketSource),
	}
	for _, p := range opts.Ports {
		c.ports[p] = true
	}
	for _, name := range opts.Interfaces {
		c.only[name] = true
	}
	return c, nil
}

func (c *NetworkCollector) Surface() schemas.Surface { return schemas.SurfaceNetwork }

func (c *NetworkCollector) State() State { return c.state.Load() }

// CaptureBaseline opens a handle on every interface. The baseline lists the
// interfaces being captured.
func (c *NetworkCollector) CaptureBaseline(ctx context.Context) ([]schemas.RawEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Load() != StateIdle {
		return copyEvents(c.captured), nil
	}

	ifaces, err := c.capturer.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("network baseline: %w", err)
	}

	now := c.clock.Now()
	var lastErr error
	var baseline []schemas.RawEvent
	for _, iface := range ifaces {
		for _, ip := range iface.Addrs {
			c.local[ip.String()] = true
		}
		if len(c.only) > 0 && !c.only[iface.Name] {
			continue
		}
		if err := ctx.Err(); err != nil {
			c.closeSourcesLocked()
			return nil, err
		}
		src, err := c.capturer.Open(iface.Name, c.snaplen, c.interval)
		if err != nil {
			lastErr = err
			c.logger.Debug("Failed to open interface", zap.String("interface", iface.Name), zap.Error(err))
			continue
		}
		c.sources[iface.Name] = src
		addrs := make([]string, 0, len(iface.Addrs))
		for _, ip := range iface.Addrs {
			addrs = append(addrs, ip.String())
		}
		baseline = append(baseline, schemas.RawEvent{
			Surface:   schemas.SurfaceNetwork,
			Origin:    schemas.OriginBaseline,
			Timestamp: now,
			Name:      iface.Name,
			Value:     strings.Join(addrs, ","),
			Note:      "capturing",
		})
	}
	if len(c.sources) == 0 {
		if lastErr != nil {
			return nil, fmt.Errorf("network baseline: %w: %v", ErrNoInterfaces, lastErr)
		}
		return nil, fmt.Errorf("network baseline: %w", ErrNoInterfaces)
	}

	c.captured = baseline
	c.state.Store(StateBaselineCaptured)
	c.metrics.AddEvents(string(schemas.SurfaceNetwork), string(schemas.OriginBaseline), len(baseline))
	c.logger.Debug("Capturing", zap.Int("interfaces", len(c.sources)))
	return copyEvents(c.captured), nil
}

func (c *NetworkCollector) closeSourcesLocked() {
	for name, src := range c.sources {
		src.Close()
		delete(c.sources, name)
	}
}

type capturedPacket struct {
	data     []byte
	linkType layers.LinkType
}

// Run reads packets from every handle until ctx is done.
func (c *NetworkCollector) Run(ctx context.Context) (Result, error) {
	defer c.state.Store(StateStopped)

	if c.state.Load() == StateIdle {
		if _, err := c.CaptureBaseline(ctx); err != nil {
			c.logger.Warn("Collector setup failed", zap.Error(err))
			return Result{Surface: schemas.SurfaceNetwork}, err
		}
	}
	c.state.Store(StatePolling)

	c.mu.Lock()
	sources := make(map[string]PacketSource, len(c.sources))
	for name, src := range c.sources {
		sources[name] = src
	}
	c.mu.Unlock()

	done := make(chan struct{})
	packets := make(chan capturedPacket, 256)
	var wg sync.WaitGroup
	for name, src := range sources {
		wg.Add(1)
		go func(name string, src PacketSource) {
			defer wg.Done()
			c.read(name, src, packets, done)
		}(name, src)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case p := <-packets:
			if ev, ok := c.decode(p.data, p.linkType, c.clock.Now()); ok {
				c.record(ev)
			}
		}
	}

	close(done)
	c.mu.Lock()
	c.closeSourcesLocked()
	c.mu.Unlock()
	if !waitTimeout(&wg, 2*c.interval+time.Second) {
		c.logger.Debug("Packet readers still blocked after close")
	}
	return c.result(), nil
}

// read pumps one handle into packets until done is closed or the handle fails.
func (c *NetworkCollector) read(name string, src PacketSource, packets chan<- capturedPacket, done <-chan struct{}) {
	linkType := src.LinkType()
	for {
		select {
		case <-done:
			return
		default:
		}
		data, _, err := src.ReadPacketData()
		c.metrics.IncTick(string(schemas.SurfaceNetwork))
		if errors.Is(err, errReadTimeout) {
			continue
		}
		if err != nil {
			select {
			case <-done:
			default:
				c.logger.Debug("Capture stopped", zap.String("interface", name), zap.Error(err))
				c.metrics.IncTickError(string(schemas.SurfaceNetwork))
			}
			return
		}
		select {
		case packets <- capturedPacket{data: data, linkType: linkType}:
		case <-done:
			return
		}
	}
}

func (c *NetworkCollector) record(ev schemas.RawEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
	c.metrics.AddEvents(string(schemas.SurfaceNetwork), string(schemas.OriginLive), 1)
}

// decode turns raw packet bytes into an event. It reports false for packets
// that carry no IP layer, that go to a local address, or whose destination
// port is not in the suspicious set.
func (c *NetworkCollector) decode(data []byte, linkType layers.LinkType, now time.Time) (schemas.RawEvent, bool) {
	info, ok := decodePacket(data, linkType)
	if !ok {
		return schemas.RawEvent{}, false
	}
	c.mu.Lock()
	local := c.local[info.Dst]
	c.mu.Unlock()
	if local || isLoopback(info.Dst) {
		return schemas.RawEvent{}, false
	}
	if info.Port != 0 && !c.ports[info.Port] {
		return schemas.RawEvent{}, false
	}
	return schemas.RawEvent{
		Kind:        schemas.KindCreated,
		Surface:     schemas.SurfaceNetwork,
		Origin:      schemas.OriginLive,
		Timestamp:   now,
		Src:         info.Src,
		Dst:         info.Dst,
		Protocol:    info.Protocol,
		AppProtocol: AppProtocols[info.Port],
		Port:        info.Port,
		Layers:      info.Layers,
	}, true
}

// packetInfo is the decoded summary of one packet.
type packetInfo struct {
	Src      string
	Dst      string
	Protocol string
	Port     int
	Layers   []string
}

// decodePacket extracts addresses, protocol and destination port.
func decodePacket(data []byte, linkType layers.LinkType) (packetInfo, bool) {
	pkt := gopacket.NewPacket(data, linkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})

	var info packetInfo
	switch nl := pkt.NetworkLayer().(type) {
	case *layers.IPv4:
		info.Src, info.Dst = nl.SrcIP.String(), nl.DstIP.String()
	case *layers.IPv6:
		info.Src, info.Dst = nl.SrcIP.String(), nl.DstIP.String()
	default:
		return packetInfo{}, false
	}

	var highest string
	for _, l := range pkt.Layers() {
		t := l.LayerType()
		if t == gopacket.LayerTypePayload || t == gopacket.LayerTypeDecodeFailure {
			continue
		}
		info.Layers = append(info.Layers, t.String())
		highest = t.String()
	}

	switch tl := pkt.TransportLayer().(type) {
	case *layers.TCP:
		info.Protocol = "TCP"
		info.Port = int(tl.DstPort)
	case *layers.UDP:
		info.Protocol = "UDP"
		info.Port = int(tl.DstPort)
	default:
		info.Protocol = normalizeProtocol(highest)
	}
	return info, true
}

func normalizeProtocol(name string) string {
	if strings.HasPrefix(name, "ICMPv") {
		return "ICMP"
	}
	return strings.ToUpper(name)
}

func isLoopback(addr string) bool {
	ip := net.ParseIP(addr)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func (c *NetworkCollector) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Result{
		Surface:  schemas.SurfaceNetwork,
		Baseline: copyEvents(c.captured),
		Events:   copyEvents(c.events),
	}
}

// waitTimeout waits for wg for at most d and reports whether it finished.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}

// sortedInterfaces orders interfaces by name.
func sortedInterfaces(ifaces []CaptureInterface) []CaptureInterface {
	sort.Slice(ifaces, func(i, j int) bool { return ifaces[i].Name < ifaces[j].Name })
	return ifaces
}
