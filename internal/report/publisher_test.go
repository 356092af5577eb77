package report

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/flowscope/internal/analyzer"
	"firestige.xyz/flowscope/internal/config"
	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/eventbus"
)

// recorder keeps every event and snapshot it is handed.
type recorder struct {
	mu        sync.Mutex
	events    []*Event
	snapshots []*Snapshot
	stopped   bool
}

func (r *recorder) Name() string                { return "recorder" }
func (r *recorder) Init(map[string]any) error   { return nil }
func (r *recorder) Start(context.Context) error { return nil }
func (r *recorder) Flush(context.Context) error { return nil }
func (r *recorder) Stop(context.Context) error  { r.stopped = true; return nil }
func (r *recorder) Report(_ context.Context, e *Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}
func (r *recorder) ReportSnapshot(_ context.Context, s *Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func TestDispatcherRoutesByFilter(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(2, 64)

	all := &recorder{}
	deletes := &recorder{}
	allFilter, err := NewEventFilter(nil)
	require.NoError(t, err)
	deleteFilter, err := NewEventFilter([]string{"connectiondelete"})
	require.NoError(t, err)

	d := &Dispatcher{logger: testLogger(), ctx: context.Background()}
	d.Add(all, allFilter)
	d.Add(deletes, deleteFilter)
	require.NoError(t, d.Start(context.Background()))
	require.NoError(t, d.Subscribe(bus))
	assert.Equal(t, analyzer.AllEvents, d.Mask())

	pub := NewPublisher(bus, d.Mask())
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	var slot any
	pub.Handle(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, &slot)
	pub.Handle(analyzer.EventNewPacket, analyzer.PacketInfo{Timestamp: t0, IPLength: 60}, c, &slot)
	pub.Handle(analyzer.EventConnectionDelete, analyzer.PacketInfo{Timestamp: t0}, c, &slot)
	require.NoError(t, pub.PublishSnapshot(TakeSnapshot(tbl, nil, t0)))

	cached, ok := slot.(*[2]string)
	require.True(t, ok)
	assert.Equal(t, [2]string{"10.0.0.1", "10.0.0.2"}, *cached)

	require.NoError(t, bus.Close())
	require.NoError(t, d.Stop(context.Background()))

	require.Len(t, all.events, 3)
	assert.Equal(t, KindNew, all.events[0].Kind)
	assert.Equal(t, KindPacket, all.events[1].Kind)
	assert.Equal(t, KindDelete, all.events[2].Kind)
	require.Len(t, deletes.events, 1)
	assert.Equal(t, KindDelete, deletes.events[0].Kind)

	assert.Len(t, all.snapshots, 1)
	assert.Len(t, deletes.snapshots, 1)
	assert.True(t, all.stopped)
	assert.Zero(t, pub.Dropped())
}

func TestPublisherCountsDrops(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(1, 1)
	require.NoError(t, bus.Close())

	pub := NewPublisher(bus, analyzer.AllEvents)
	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	var slot any
	pub.Handle(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, &slot)
	assert.EqualValues(t, 1, pub.Dropped())
}

func TestNewDispatcherFromConfig(t *testing.T) {
	d, err := NewDispatcher([]config.ReporterConfig{
		{Name: "console", Events: []string{"*rttmeasurement"}, Config: map[string]any{"format": "json"}},
	})
	require.NoError(t, err)
	require.Len(t, d.Reporters(), 1)
	assert.Equal(t, analyzer.EventNewLeftRTT|analyzer.EventNewRightRTT|
		analyzer.EventNewInitRespFullRTT|analyzer.EventNewRespInitFullRTT, d.Mask())

	_, err = NewDispatcher([]config.ReporterConfig{{Name: "console", Events: []string{"bogus"}}})
	assert.Error(t, err)

	_, err = NewDispatcher([]config.ReporterConfig{{Name: "fax"}})
	assert.Error(t, err)
}

func TestDispatcherConsoleEndToEnd(t *testing.T) {
	bus := eventbus.NewInMemoryEventBus(1, 16)
	cr := NewConsoleReporter()
	var buf bytes.Buffer
	cr.SetOutput(&buf)
	f, err := NewEventFilter([]string{"newconnection"})
	require.NoError(t, err)

	d := &Dispatcher{logger: testLogger(), ctx: context.Background()}
	d.Add(cr, f)
	require.NoError(t, d.Subscribe(bus))

	tbl := connection.NewTable(connection.Options{})
	c := newUDP(t, tbl)
	var slot any
	pub := NewPublisher(bus, d.Mask())
	pub.Handle(analyzer.EventNewConnection, analyzer.PacketInfo{Timestamp: t0}, c, &slot)
	require.NoError(t, bus.Close())

	assert.Equal(t, 1, strings.Count(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "10.0.0.1 <-> 10.0.0.2")
}
