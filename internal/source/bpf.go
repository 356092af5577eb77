package source

import (
	"fmt"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
	"golang.org/x/net/bpf"
)

// CompileBPF compiles a tcpdump filter expression for the given link type.
func CompileBPF(lt layers.LinkType, snapLen int, filter string) ([]bpf.RawInstruction, error) {
	insns, err := pcap.CompileBPFFilter(lt, snapLen, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to compile BPF filter %q: %w", filter, err)
	}
	raw := make([]bpf.RawInstruction, len(insns))
	for i, ins := range insns {
		raw[i] = bpf.RawInstruction{Op: ins.Code, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return raw, nil
}

// Filter runs a compiled program in user space, for sources without a
// kernel socket to attach it to.
type Filter struct {
	vm *bpf.VM
}

// NewFilter builds a Filter from raw instructions.
func NewFilter(raw []bpf.RawInstruction) (*Filter, error) {
	insns, ok := bpf.Disassemble(raw)
	if !ok {
		return nil, fmt.Errorf("BPF program contains unknown instructions")
	}
	vm, err := bpf.NewVM(insns)
	if err != nil {
		return nil, fmt.Errorf("invalid BPF program: %w", err)
	}
	return &Filter{vm: vm}, nil
}

// Match reports whether the program accepts the frame.
func (f *Filter) Match(data []byte) bool {
	n, err := f.vm.Run(data)
	return err == nil && n > 0
}
