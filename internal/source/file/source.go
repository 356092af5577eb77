// Package file reads packets from pcap and pcapng capture files.
package file

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/flowscope/internal/core"
	"firestige.xyz/flowscope/internal/source"
)

const Name = "file"

// pcapng section header block type, as it appears on disk in either byte
// order.
var ngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Config selects the capture file and an optional filter expression.
type Config struct {
	Path      string
	BPFFilter string
	SnapLen   int
}

// Source replays a capture file. Timestamps come from the file.
type Source struct {
	cfg    Config
	f      *os.File
	reader packetReader
	filter *source.Filter
	lt     core.LinkType
	logger *slog.Logger

	packets  uint64
	filtered uint64
}

func NewSource(cfg Config) (*Source, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file path is required")
	}
	if cfg.SnapLen <= 0 {
		cfg.SnapLen = 65535
	}
	return &Source{cfg: cfg, logger: slog.Default().With("component", "source", "source", Name)}, nil
}

// Start opens the file and, when a filter is set, compiles it for the
// file's link type.
func (s *Source) Start(ctx context.Context) error {
	f, err := os.Open(s.cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", s.cfg.Path, err)
	}
	br := bufio.NewReader(f)
	head, err := br.Peek(4)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture file header: %w", err)
	}

	var r packetReader
	if bytes.Equal(head, ngMagic) {
		r, err = pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	} else {
		r, err = pcapgo.NewReader(br)
	}
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to parse capture file %s: %w", s.cfg.Path, err)
	}

	if s.cfg.BPFFilter != "" {
		raw, err := source.CompileBPF(r.LinkType(), s.cfg.SnapLen, s.cfg.BPFFilter)
		if err != nil {
			f.Close()
			return err
		}
		if s.filter, err = source.NewFilter(raw); err != nil {
			f.Close()
			return err
		}
	}

	s.f, s.reader = f, r
	s.lt = source.LinkTypeOf(r.LinkType())
	s.logger.Info("capture file opened", "path", s.cfg.Path, "link_type", s.lt)
	return nil
}

// ReadPacket returns the next frame accepted by the filter, or io.EOF.
func (s *Source) ReadPacket() (core.RawPacket, error) {
	if s.reader == nil {
		return core.RawPacket{}, fmt.Errorf("file source not started")
	}
	for {
		data, ci, err := s.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return core.RawPacket{}, io.EOF
			}
			return core.RawPacket{}, fmt.Errorf("failed to read packet: %w", err)
		}
		s.packets++
		if s.filter != nil && !s.filter.Match(data) {
			s.filtered++
			continue
		}
		return source.NewRawPacket(data, ci, s.lt), nil
	}
}

func (s *Source) LinkType() core.LinkType {
	if s.reader == nil {
		return core.LinkTypeEthernet
	}
	return s.lt
}

// Stats reports frames read; filtered frames count as drops.
func (s *Source) Stats() (source.Stats, error) {
	return source.Stats{Packets: s.packets, Drops: s.filtered}, nil
}

func (s *Source) Stop() error {
	if s.f == nil {
		return nil
	}
	err := s.f.Close()
	s.f, s.reader = nil, nil
	return err
}
