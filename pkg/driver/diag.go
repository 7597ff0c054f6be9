package driver

import (
	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// TraceEnable toggles frame capture for a network.
func (d *Driver) TraceEnable(net int, on bool) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	n.Trace.Enable(on)
	return nil
}

// TraceDump writes a network's trace ring to path as annotated hex.
func (d *Driver) TraceDump(net int, path string) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	return n.Trace.Dump(path)
}

// SerialStats returns a network's octet and frame counters.
func (d *Driver) SerialStats(net int) (link.SerialStats, error) {
	n, err := d.network(net)
	if err != nil {
		return link.SerialStats{}, err
	}
	return n.SerialStats(), nil
}

// GetHostErrStats returns the host-side link damage counters for a
// network and whether any damage has been seen.
func (d *Driver) GetHostErrStats(net int) (link.HostErrStats, bool, error) {
	n, err := d.network(net)
	if err != nil {
		return link.HostErrStats{}, false, err
	}
	s, set := n.HostErrStats()
	return s, set, nil
}

// GetBackgroundErrs returns a node's self-reported link damage counters
// and whether the node has reported any.
func (d *Driver) GetBackgroundErrs(addr multiaddr.Addr) (link.DiagStats, bool, error) {
	_, node, err := d.resolve(addr)
	if err != nil {
		return link.DiagStats{}, false, err
	}
	s, set := node.Diag()
	return s, set, nil
}

// StrayResponses returns the stray-response count for a network.
func (d *Driver) StrayResponses(net int) (uint64, error) {
	n, err := d.network(net)
	if err != nil {
		return 0, err
	}
	return n.Tracker.Strays(), nil
}

// GetDataAcqPoints pops up to max queued acquisition points for a node.
func (d *Driver) GetDataAcqPoints(addr multiaddr.Addr, max int) ([]wire.DataAcqPoint, error) {
	n, _, err := d.resolve(addr)
	if err != nil {
		return nil, err
	}
	return n.DataAcqPoints(addr.Node(), max), nil
}

// GetDataAcqCount returns the queued acquisition point count for a node.
func (d *Driver) GetDataAcqCount(addr multiaddr.Addr) (int, error) {
	n, _, err := d.resolve(addr)
	if err != nil {
		return 0, err
	}
	return n.DataAcqCount(addr.Node()), nil
}

// FlushDataAcq drops a node's queued acquisition points.
func (d *Driver) FlushDataAcq(addr multiaddr.Addr) error {
	n, _, err := d.resolve(addr)
	if err != nil {
		return err
	}
	n.FlushDataAcq(addr.Node())
	return nil
}

// NetRate returns a network's negotiated line rate.
func (d *Driver) NetRate(net int) (int, error) {
	n, err := d.network(net)
	if err != nil {
		return 0, err
	}
	return n.Rate(), nil
}
