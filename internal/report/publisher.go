package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/eventbus"
	"firestige.xyz/flowscope/internal/metrics"
)

// Bus topics.
const (
	TopicEvent    = "event"
	TopicSnapshot = "snapshot"
)

// Publisher is the analyzer handler that copies events onto the bus. It
// runs on the packet path and never blocks.
type Publisher struct {
	bus     eventbus.EventBus
	mask    analyzer.Event
	dropped atomic.Uint64
}

func NewPublisher(bus eventbus.EventBus, mask analyzer.Event) *Publisher {
	return &Publisher{bus: bus, mask: mask}
}

// Mask is the set of events worth publishing.
func (p *Publisher) Mask() analyzer.Event { return p.mask }

// Dropped counts events the bus refused.
func (p *Publisher) Dropped() uint64 { return p.dropped.Load() }

// Handle implements analyzer.HandlerFunc. The connection's data slot caches
// the rendered endpoints.
func (p *Publisher) Handle(ev analyzer.Event, pkt analyzer.PacketInfo, c *connection.Connection, data *any) {
	addrs, _ := (*data).(*[2]string)
	if addrs == nil {
		a := Endpoints(c)
		addrs = &a
		*data = addrs
	}
	e := NewEvent(ev, pkt, c, addrs)
	if err := p.bus.Publish(&eventbus.Event{Topic: TopicEvent, Key: e.Key(), Payload: e}); err != nil {
		p.dropped.Add(1)
	}
}

// PublishSnapshot hands a table snapshot to the snapshot reporters.
func (p *Publisher) PublishSnapshot(s *Snapshot) error {
	return p.bus.Publish(&eventbus.Event{Topic: TopicSnapshot, Key: TopicSnapshot, Payload: s})
}

type binding struct {
	reporter Reporter
	filter   *EventFilter
}

// Dispatcher owns the configured reporters and routes bus messages to them.
type Dispatcher struct {
	bindings []binding
	logger   *slog.Logger
	ctx      context.Context
}

// NewDispatcher creates and initialises every configured reporter.
func NewDispatcher(cfgs []config.ReporterConfig) (*Dispatcher, error) {
	d := &Dispatcher{logger: slog.Default().With("component", "report"), ctx: context.Background()}
	for _, rc := range cfgs {
		f, err := NewEventFilter(rc.Events)
		if err != nil {
			return nil, fmt.Errorf("reporter %s: %w", rc.Name, err)
		}
		r, err := New(rc.Name, rc.Config)
		if err != nil {
			return nil, err
		}
		d.Add(r, f)
	}
	return d, nil
}

// Add binds a reporter with its event filter.
func (d *Dispatcher) Add(r Reporter, f *EventFilter) {
	d.bindings = append(d.bindings, binding{reporter: r, filter: f})
}

// Mask is the union of all reporter filters.
func (d *Dispatcher) Mask() analyzer.Event {
	var m analyzer.Event
	for _, b := range d.bindings {
		m |= b.filter.Mask()
	}
	return m
}

// Reporters returns the bound reporters in configuration order.
func (d *Dispatcher) Reporters() []Reporter {
	out := make([]Reporter, len(d.bindings))
	for i, b := range d.bindings {
		out[i] = b.reporter
	}
	return out
}

// Start starts every reporter. On failure the ones already started are
// stopped again.
func (d *Dispatcher) Start(ctx context.Context) error {
	// Queued events are still delivered after ctx is cancelled.
	d.ctx = context.WithoutCancel(ctx)
	for i, b := range d.bindings {
		if err := b.reporter.Start(ctx); err != nil {
			for _, started := range d.bindings[:i] {
				_ = started.reporter.Stop(ctx)
			}
			return fmt.Errorf("start reporter %s: %w", b.reporter.Name(), err)
		}
		d.logger.Info("reporter started", "reporter", b.reporter.Name(), "events", b.filter.String())
	}
	return nil
}

// Subscribe attaches the dispatcher to the bus topics.
func (d *Dispatcher) Subscribe(bus eventbus.EventBus) error {
	if err := bus.Subscribe(TopicEvent, d.handleEvent); err != nil {
		return err
	}
	return bus.Subscribe(TopicSnapshot, d.handleSnapshot)
}

func (d *Dispatcher) handleEvent(msg *eventbus.Event) error {
	e, ok := msg.Payload.(*Event)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg.Payload, msg.Topic)
	}
	var errs []error
	for _, b := range d.bindings {
		if b.filter.Mask()&e.Source == 0 {
			continue
		}
		name := b.reporter.Name()
		if err := b.reporter.Report(d.ctx, e); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(name, "report").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			continue
		}
		metrics.ReporterEventsTotal.WithLabelValues(name).Inc()
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) handleSnapshot(msg *eventbus.Event) error {
	s, ok := msg.Payload.(*Snapshot)
	if !ok {
		return fmt.Errorf("unexpected payload %T on %s", msg.Payload, msg.Topic)
	}
	var errs []error
	for _, b := range d.bindings {
		sr, ok := b.reporter.(SnapshotReporter)
		if !ok {
			continue
		}
		if err := sr.ReportSnapshot(d.ctx, s); err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(b.reporter.Name(), "snapshot").Inc()
			errs = append(errs, fmt.Errorf("%s: %w", b.reporter.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Stop flushes and stops every reporter.
func (d *Dispatcher) Stop(ctx context.Context) error {
	var errs []error
	for _, b := range d.bindings {
		if err := b.reporter.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", b.reporter.Name(), err))
		}
		if err := b.reporter.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", b.reporter.Name(), err))
		}
	}
	return errors.Join(errs...)
}
