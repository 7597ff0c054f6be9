// Package driver is the public surface of the AxonLink host driver.
//
// A Driver owns every configured network and exposes the application API:
// lifecycle, tracked commands, typed-as-bytes parameter access, motion
// opcodes, stop semantics, asynchronous events, and diagnostics. All
// per-process state lives on the Driver; there are no package-level
// registration points.
package driver

import (
	"fmt"
	"sync"

	"github.com/axonlink/axonlink/internal/logger"
	"github.com/axonlink/axonlink/internal/protocol/link"
	"github.com/axonlink/axonlink/internal/protocol/wire"
	"github.com/axonlink/axonlink/internal/serial"
	"github.com/axonlink/axonlink/pkg/buserr"
	"github.com/axonlink/axonlink/pkg/metrics"
	"github.com/axonlink/axonlink/pkg/multiaddr"
)

// ControllerSpec identifies one serial port to bring online.
type ControllerSpec struct {
	// Port is the serial device path.
	Port string

	// Rate is the target rate to negotiate; 0 selects the default.
	Rate int
}

// Options tunes a Driver beyond the per-network link configuration.
type Options struct {
	// Link carries the per-network tunables; zero value selects
	// link.DefaultConfig.
	Link link.Config

	// Opener substitutes the port factory. Tests and simulators inject
	// in-memory lines here; production leaves it nil for real ports.
	Opener serial.Opener

	// MetricsFor returns the metrics sink for a network index; nil
	// disables collection.
	MetricsFor func(net int) metrics.LinkMetrics
}

// Driver owns all networks for one process.
type Driver struct {
	mu   sync.Mutex
	nets []*link.Network
	opts Options

	cbMu sync.Mutex
	cb   Callbacks

	brakeMu sync.Mutex
	brakes  map[brakeKey]*brakeBinding

	shutMu   sync.Mutex
	shutInfo map[multiaddr.Addr]ShutdownInfo
}

// New returns an idle Driver. Call InitNets to bring networks online.
func New(opts Options) *Driver {
	if opts.Link.QueueLimit == 0 {
		opts.Link = link.DefaultConfig()
	}
	if opts.Opener == nil {
		opts.Opener = openSystemPort
	}
	return &Driver{
		opts:     opts,
		brakes:   make(map[brakeKey]*brakeBinding),
		shutInfo: make(map[multiaddr.Addr]ShutdownInfo),
	}
}

// openSystemPort is the production port factory.
func openSystemPort(name string, rate int) (serial.Port, error) {
	return serial.OpenPort(name, rate)
}

// InitNets brings one network online per controller spec, in order. With
// resetNodes set, every ring is broadcast-reset before enumeration. The
// call suspends for the full bring-up of every network; the first failure
// aborts the remainder but leaves already-online networks running.
func (d *Driver) InitNets(resetNodes bool, specs []ControllerSpec) error {
	d.mu.Lock()
	if len(d.nets) != 0 {
		d.mu.Unlock()
		return fmt.Errorf("driver already initialized with %d networks", len(d.nets))
	}

	for i, spec := range specs {
		cfg := d.opts.Link
		if spec.Rate != 0 {
			cfg.TargetRate = spec.Rate
		}
		var met metrics.LinkMetrics
		if d.opts.MetricsFor != nil {
			met = d.opts.MetricsFor(i)
		}
		n := link.NewNetwork(i, spec.Port, d.opts.Opener, cfg, met)
		n.Disp.SetCallbacks(d.linkCallbacks(n))
		d.nets = append(d.nets, n)
	}
	nets := append([]*link.Network(nil), d.nets...)
	d.mu.Unlock()

	for _, n := range nets {
		if err := n.Start(resetNodes); err != nil {
			return fmt.Errorf("network %d (%s): %w", n.Index, specPort(specs, n.Index), err)
		}
	}
	return nil
}

func specPort(specs []ControllerSpec, i int) string {
	if i < len(specs) {
		return specs[i].Port
	}
	return "?"
}

// Shutdown runs the armed shutdown stops, then closes every network. All
// outstanding commands fail with CommAborted.
func (d *Driver) Shutdown() {
	d.mu.Lock()
	nets := append([]*link.Network(nil), d.nets...)
	d.mu.Unlock()

	// armed stops go out while the networks still accept traffic
	for _, n := range nets {
		d.initiateShutdownStops(n)
	}

	d.mu.Lock()
	d.nets = nil
	d.mu.Unlock()

	for _, n := range nets {
		n.Stop()
	}
	logger.Info("driver shut down", logger.KeyNodes, len(nets))
}

// NetCount returns the number of configured networks.
func (d *Driver) NetCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.nets)
}

// Online reports whether a network is ready for commands.
func (d *Driver) Online(net int) bool {
	n, err := d.network(net)
	return err == nil && n.Online()
}

// NetState returns the lifecycle state of a network.
func (d *Driver) NetState(net int) (link.State, error) {
	n, err := d.network(net)
	if err != nil {
		return 0, err
	}
	return n.State(), nil
}

// RestartNet tears one network down and re-runs discovery. With
// restartNodes set, the ring is broadcast-reset first.
func (d *Driver) RestartNet(net int, restartNodes bool) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	return n.Restart(restartNodes)
}

// RestartNode resets a single node. Its cached state is dropped; the node
// keeps its ring address.
func (d *Driver) RestartNode(addr multiaddr.Addr) error {
	n, node, err := d.resolve(addr)
	if err != nil {
		return err
	}
	f := wire.Frame{
		Addr:    uint8(addr.Node()),
		Type:    wire.PktExtendHigh,
		Payload: []byte{wire.ExtHighReset},
	}
	if err := n.WriteFrame(f, zeroCmdID()); err != nil {
		return err
	}
	node.CacheInvalidate(0, -1)
	node.SetMotionLock(false)
	return nil
}

// SetAutoNetDiscovery toggles ring verification and autonomous recovery
// for a network.
func (d *Driver) SetAutoNetDiscovery(net int, on bool) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	n.SetAutoDiscovery(on)
	return nil
}

// AutoNetDiscovery reads the setting back.
func (d *Driver) AutoNetDiscovery(net int) (bool, error) {
	n, err := d.network(net)
	if err != nil {
		return false, err
	}
	return n.AutoDiscovery(), nil
}

// SetCmdQueueLimit resizes a network's in-flight command window.
func (d *Driver) SetCmdQueueLimit(net int, limit int) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	n.SetQueueLimit(limit)
	return nil
}

// BackgroundPollControl starts or pauses a network's background worker.
func (d *Driver) BackgroundPollControl(net int, start bool) error {
	n, err := d.network(net)
	if err != nil {
		return err
	}
	n.BackgroundPollControl(start)
	return nil
}

// network resolves a network index.
func (d *Driver) network(net int) (*link.Network, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if net < 0 || net >= len(d.nets) {
		return nil, buserr.New(multiaddr.Unknown, buserr.UnknownAddress)
	}
	return d.nets[net], nil
}

// resolve maps a multi-address to its network and node record.
func (d *Driver) resolve(addr multiaddr.Addr) (*link.Network, *link.NodeInfo, error) {
	if addr.IsUnknown() {
		return nil, nil, buserr.New(addr, buserr.UnknownAddress)
	}
	n, err := d.network(addr.Net())
	if err != nil {
		return nil, nil, err
	}
	node, err := n.Node(addr.Node())
	if err != nil {
		return nil, nil, err
	}
	return n, node, nil
}
