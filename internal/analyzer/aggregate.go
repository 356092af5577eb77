package analyzer

import (
	"fmt"
	"time"

	"firestige.xyz/flowscope/internal/connection"
	"firestige.xyz/flowscope/internal/core"
)

// AggregateDef describes a manually configured aggregate. Hosts are given as
// full-length networks. Side2 is unused for multicast groups.
type AggregateDef struct {
	Type  connection.Type
	Side1 core.Network
	Side2 core.Network
}

// ParseAggregateDef builds a definition from its configuration strings.
// Addresses without a prefix length are read as hosts.
func ParseAggregateDef(typ, side1, side2 string) (AggregateDef, error) {
	t, err := connection.ParseType(typ)
	if err != nil {
		return AggregateDef{}, fmt.Errorf("%w: %v", core.ErrConfigInvalid, err)
	}
	def := AggregateDef{Type: t}
	if def.Side1, err = core.ParseNetwork(side1); err != nil {
		return AggregateDef{}, fmt.Errorf("%w: aggregate side1: %v", core.ErrConfigInvalid, err)
	}
	if t != connection.TypeMulticastGroup {
		if def.Side2, err = core.ParseNetwork(side2); err != nil {
			return AggregateDef{}, fmt.Errorf("%w: aggregate side2: %v", core.ErrConfigInvalid, err)
		}
	}
	return def, def.Validate()
}

// Validate checks that the sides have the shape the aggregate type needs.
func (d AggregateDef) Validate() error {
	switch d.Type {
	case connection.TypeHostPair:
		if !d.Side1.IsHost() || !d.Side2.IsHost() {
			return fmt.Errorf("%w: host pair needs two host addresses", core.ErrConfigInvalid)
		}
	case connection.TypeHostNetwork:
		if !d.Side1.IsHost() {
			return fmt.Errorf("%w: host network needs a host address on side1", core.ErrConfigInvalid)
		}
	case connection.TypeNetworkNetwork:
	case connection.TypeMulticastGroup:
		if !d.Side1.IsHost() || !d.Side1.Address().IsMulticast() {
			return fmt.Errorf("%w: %s is not a multicast group address", core.ErrConfigInvalid, d.Side1)
		}
	default:
		return fmt.Errorf("%w: %s is not an aggregate type", core.ErrConfigInvalid, d.Type)
	}
	return nil
}

// AddAggregate creates a static aggregate, or returns the existing one with
// the same pattern. Flows already in the table are linked to it.
func (a *Analyzer) AddAggregate(def AggregateDef, now time.Time) (*connection.Connection, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	side1, side2 := def.Side1.Address(), def.Side2.Address()
	if def.Type == connection.TypeMulticastGroup {
		side2 = side1
	}
	if c := a.table.SearchAggregate(def.Type, side1, side2, def.Side1, def.Side2); c != nil {
		return c, nil
	}

	var (
		c   *connection.Connection
		err error
	)
	switch def.Type {
	case connection.TypeHostPair:
		c, err = a.table.NewHostPair(side1, side2, true, now)
	case connection.TypeHostNetwork:
		c, err = a.table.NewHostNetwork(side1, def.Side2, true, now)
	case connection.TypeNetworkNetwork:
		c, err = a.table.NewNetworkNetwork(def.Side1, def.Side2, true, now)
	case connection.TypeMulticastGroup:
		c, err = a.table.NewMulticastGroup(side1, true, now)
	}
	if err != nil {
		a.createFailed(err)
		return nil, err
	}
	a.logger.Info("aggregate added", "id", c.ID, "type", c.Type().String(), "addresses", c.AddressString())
	a.fire(EventNewConnection, PacketInfo{Timestamp: now}, c)
	return c, nil
}
