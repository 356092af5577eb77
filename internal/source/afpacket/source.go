// Package afpacket captures live traffic with a TPACKET_V3 ring.
package afpacket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/gopacket/afpacket"
	"github.com/google/gopacket/layers"
	"github.com/vishvananda/netlink"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

const Name = "afpacket"

// Config describes the capture socket.
type Config struct {
	Interface   string
	SnapLen     int
	BufferBytes uint64
	Timeout     time.Duration
	FanoutID    uint16
	BPFFilter   string
}

type Source struct {
	cfg    Config
	handle *afpacket.TPacket
	index  int
	logger *slog.Logger

	frameSize int
	blockSize int
	numBlocks int
}

// NewSource validates the configuration and sizes the ring. The socket is
// opened by Start.
func NewSource(cfg Config) (*Source, error) {
	if cfg.Interface == "" {
		return nil, fmt.Errorf("interface is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 100 * time.Millisecond
	}
	frameSize, blockSize, numBlocks, err := ringLayout(cfg.BufferBytes, cfg.SnapLen, os.Getpagesize())
	if err != nil {
		return nil, err
	}
	return &Source{
		cfg:       cfg,
		logger:    slog.Default().With("component", "source", "source", Name, "interface", cfg.Interface),
		frameSize: frameSize,
		blockSize: blockSize,
		numBlocks: numBlocks,
	}, nil
}

// Start checks the interface through netlink, opens the ring and attaches
// the fanout group and filter.
func (s *Source) Start(ctx context.Context) error {
	link, err := netlink.LinkByName(s.cfg.Interface)
	if err != nil {
		return fmt.Errorf("interface %s: %w", s.cfg.Interface, err)
	}
	attrs := link.Attrs()
	s.index = attrs.Index
	if attrs.OperState != netlink.OperUp && attrs.OperState != netlink.OperUnknown {
		s.logger.Warn("interface is not up", "oper_state", attrs.OperState.String())
	}
	if attrs.MTU > 0 && s.cfg.SnapLen < attrs.MTU {
		s.logger.Warn("snap length is below the interface MTU; frames will be truncated",
			"snap_len", s.cfg.SnapLen, "mtu", attrs.MTU)
	}

	tp, err := afpacket.NewTPacket(
		afpacket.OptInterface(s.cfg.Interface),
		afpacket.OptFrameSize(s.frameSize),
		afpacket.OptBlockSize(s.blockSize),
		afpacket.OptNumBlocks(s.numBlocks),
		afpacket.OptPollTimeout(s.cfg.Timeout),
		afpacket.SocketRaw,
		afpacket.TPacketVersion3,
	)
	if err != nil {
		return fmt.Errorf("failed to open AF_PACKET socket: %w", err)
	}

	if s.cfg.FanoutID > 0 {
		if err := tp.SetFanout(afpacket.FanoutHashWithDefrag, s.cfg.FanoutID); err != nil {
			tp.Close()
			return fmt.Errorf("failed to join fanout group %d: %w", s.cfg.FanoutID, err)
		}
	}

	if s.cfg.BPFFilter != "" {
		raw, err := source.CompileBPF(layers.LinkTypeEthernet, s.cfg.SnapLen, s.cfg.BPFFilter)
		if err != nil {
			tp.Close()
			return err
		}
		if err := tp.SetBPF(raw); err != nil {
			tp.Close()
			return fmt.Errorf("failed to attach BPF filter: %w", err)
		}
	}

	s.handle = tp
	s.logger.Info("capture started", "frame_size", s.frameSize, "block_size", s.blockSize, "blocks", s.numBlocks)
	return nil
}

// ReadPacket returns the next frame or source.ErrTimeout when the poll
// timeout expired.
func (s *Source) ReadPacket() (core.RawPacket, error) {
	if s.handle == nil {
		return core.RawPacket{}, fmt.Errorf("afpacket source not started")
	}
	data, ci, err := s.handle.ReadPacketData()
	if err != nil {
		if errors.Is(err, afpacket.ErrTimeout) {
			return core.RawPacket{}, source.ErrTimeout
		}
		return core.RawPacket{}, err
	}
	if ci.InterfaceIndex == 0 {
		ci.InterfaceIndex = s.index
	}
	return source.NewRawPacket(data, ci, core.LinkTypeEthernet), nil
}

func (s *Source) LinkType() core.LinkType { return core.LinkTypeEthernet }

// Stats returns the kernel ring counters.
func (s *Source) Stats() (source.Stats, error) {
	if s.handle == nil {
		return source.Stats{}, nil
	}
	_, v3, err := s.handle.SocketStats()
	if err != nil {
		return source.Stats{}, err
	}
	return source.Stats{Packets: uint64(v3.Packets()), Drops: uint64(v3.Drops())}, nil
}

func (s *Source) Stop() error {
	if s.handle != nil {
		s.handle.Close()
		s.handle = nil
	}
	return nil
}
