package engine

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sbinet/npyio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

var t0 = time.Unix(1700000000, 0)

// sliceSource replays prepared packets, then reports EOF or, when live is
// set, read timeouts forever.
type sliceSource struct {
	mu      sync.Mutex
	packets []core.RawPacket
	live    bool
	started bool
	stopped bool
}

func (s *sliceSource) Start(context.Context) error { s.started = true; return nil }
func (s *sliceSource) LinkType() core.LinkType     { return core.LinkTypeEthernet }
func (s *sliceSource) Stop() error                 { s.stopped = true; return nil }

func (s *sliceSource) ReadPacket() (core.RawPacket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.packets) == 0 {
		if s.live {
			time.Sleep(2 * time.Millisecond)
			return core.RawPacket{}, source.ErrTimeout
		}
		return core.RawPacket{}, io.EOF
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}

func (s *sliceSource) Stats() (source.Stats, error) {
	return source.Stats{Packets: 4, Drops: 1}, nil
}

func frame(t *testing.T, src, dst string, l4 gopacket.SerializableLayer, proto layers.IPProtocol) []byte {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 2},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, TTL: 64, Protocol: proto, SrcIP: net.ParseIP(src).To4(), DstIP: net.ParseIP(dst).To4()}
	buf := gopacket.NewSerializeBuffer()
	require.NoError(t, gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, eth, ip, l4))
	return buf.Bytes()
}

func packet(ts time.Time, data []byte) core.RawPacket {
	return core.RawPacket{Data: data, Timestamp: ts, CaptureLen: uint32(len(data)), OrigLen: uint32(len(data)), LinkType: core.LinkTypeEthernet}
}

func at(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }

// handshake is a TCP three-way handshake followed by an unrelated UDP packet
// six seconds later.
func handshake(t *testing.T) []core.RawPacket {
	tcp := func(src, dst string, sport, dport uint16, seq, ack uint32, syn, ackFlag bool) []byte {
		l4 := &layers.TCP{SrcPort: layers.TCPPort(sport), DstPort: layers.TCPPort(dport), Seq: seq, Ack: ack, SYN: syn, ACK: ackFlag, Window: 65535}
		return frame(t, src, dst, l4, layers.IPProtocolTCP)
	}
	udp := &layers.UDP{SrcPort: 5000, DstPort: 6000}
	return []core.RawPacket{
		packet(at(0), tcp("10.0.0.1", "10.0.0.2", 40000, 80, 100, 0, true, false)),
		packet(at(10), tcp("10.0.0.2", "10.0.0.1", 80, 40000, 500, 101, true, true)),
		packet(at(30), tcp("10.0.0.1", "10.0.0.2", 40000, 80, 101, 501, false, true)),
		packet(at(6000), frame(t, "10.0.0.3", "10.0.0.4", udp, layers.IPProtocolUDP)),
	}
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Metrics.Enabled = false
	cfg.API.Enabled = false
	cfg.Reporters = nil
	return cfg
}

func TestRunReplaysCapture(t *testing.T) {
	src := &sliceSource{packets: handshake(t)}
	e, err := New(testConfig(t), Options{Source: src, SourceName: "test"})
	require.NoError(t, err)

	require.NoError(t, e.Run(context.Background()))
	assert.True(t, src.started)
	assert.True(t, src.stopped)

	snap := e.Store().Latest()
	require.NotNil(t, snap)
	assert.Equal(t, at(6000), snap.Time)
	require.Len(t, snap.Connections, 2)

	counts := snap.CountByType()
	assert.Equal(t, map[string]int{"TCP": 1, "UDP": 1}, counts)
	for _, c := range snap.Connections {
		if c.Type != "TCP" {
			continue
		}
		assert.Equal(t, "Up", c.State)
		assert.EqualValues(t, 10000, c.RightRTT)
		assert.EqualValues(t, 20000, c.LeftRTT)
		assert.Equal(t, [2]string{"10.0.0.1", "10.0.0.2"}, c.Addrs)
	}
	assert.EqualValues(t, 4, snap.Stats["receivedFrames"])
}

func TestRunDeliversEventsToReporters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rtt.npy")
	cfg := testConfig(t)
	cfg.Reporters = []config.ReporterConfig{
		{Name: "npy", Events: []string{"*rttmeasurement"}, Config: map[string]any{"path": path}},
	}

	e, err := New(cfg, Options{Source: &sliceSource{packets: handshake(t)}, SourceName: "test"})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var rtts []float64
	require.NoError(t, npyio.Read(f, &rtts))
	assert.Equal(t, []float64{10000, 20000}, rtts)
}

func TestRunStopsAfterDuration(t *testing.T) {
	src := &sliceSource{live: true}
	e, err := New(testConfig(t), Options{Source: src, SourceName: "test", Duration: 50 * time.Millisecond})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, e.Run(context.Background()))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.True(t, src.stopped)
}

func TestRunStopsOnCancel(t *testing.T) {
	src := &sliceSource{live: true}
	e, err := New(testConfig(t), Options{Source: src, SourceName: "test"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}
}

func TestNewRejectsBadAggregate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analyzer.Aggregates = []config.AggregateConfig{{Type: "hostpair", Side1: "not-an-address", Side2: "10.0.0.1"}}
	_, err := New(cfg, Options{Source: &sliceSource{}})
	assert.Error(t, err)
}

func TestNewAddsStaticAggregates(t *testing.T) {
	cfg := testConfig(t)
	cfg.Analyzer.Aggregates = []config.AggregateConfig{{Type: "hostnetwork", Side1: "10.0.0.1", Side2: "10.0.0.0/24"}}
	e, err := New(cfg, Options{Source: &sliceSource{}})
	require.NoError(t, err)
	assert.Equal(t, 1, e.Analyzer().Table().Count())
}

func TestNewRequiresSource(t *testing.T) {
	_, err := New(testConfig(t), Options{})
	assert.Error(t, err)
}
