package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for link operations. Bus-level keys use the "bus."
// prefix; node identity uses "node.".
const (
	AttrNet      = "bus.net"       // network index
	AttrNode     = "bus.node"      // node address within the ring
	AttrOpcode   = "bus.opcode"    // command opcode
	AttrBaud     = "bus.baud"      // line rate in bits/s
	AttrState    = "bus.state"     // state machine state
	AttrDepth    = "bus.depth"     // tracker depth at submit
	AttrStopType = "bus.stop_type" // node stop register

	AttrDevType = "node.dev_type" // device family
	AttrSerial  = "node.serial"   // unit serial number
)

// StartCommandSpan opens a span for one tracked command round trip.
func StartCommandSpan(ctx context.Context, net, node int, opcode uint8) (context.Context, trace.Span) {
	return StartSpan(ctx, "bus.command",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int(AttrNet, net),
			attribute.Int(AttrNode, node),
			attribute.Int(AttrOpcode, int(opcode)),
		),
	)
}

// StartBringUpSpan opens a span covering one full network bring-up.
func StartBringUpSpan(ctx context.Context, net int) (context.Context, trace.Span) {
	return StartSpan(ctx, "bus.bring_up",
		trace.WithAttributes(attribute.Int(AttrNet, net)),
	)
}
