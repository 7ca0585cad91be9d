package lb

import (
	"context"
	"errors"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/agentgateway/agentgateway-core/internal/config"
	"github.com/agentgateway/agentgateway-core/internal/logging"
)

// errPickerRPCNotImplemented marks the case where the picker is reachable
// but this module has no generated client stub for its protobuf service,
// so the call itself can't be dispatched. Kept distinct from a dial/
// connectivity failure so callers can tell the two apart if they need to.
var errPickerRPCNotImplemented = errors.New("inference endpoint picker RPC not implemented")

var inferenceLogger = logging.New("lb.inference")

// Picker consults an external endpoint-picker gRPC service for AI-aware
// load balancing.
//
// The wire contract with the picker service is out of this module's scope
// (it mirrors the external "Endpoint Picker Protocol" used by inference
// gateways); Dial is kept as a thin, swappable seam so a generated gRPC
// client can be plugged in without touching selection logic.
type Picker struct {
	dial func(ctx context.Context, target string) (*grpc.ClientConn, error)
}

func NewPicker() *Picker {
	return &Picker{dial: func(ctx context.Context, target string) (*grpc.ClientConn, error) {
		return grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}}
}

// PickResult is the endpoint the picker chose, or a reason the base set
// should be used instead.
type PickResult struct {
	Endpoint *config.Endpoint
	// PickerUnavailable is true when the picker could not be dialed, or its
	// connection is in TRANSIENT_FAILURE.
	PickerUnavailable bool
	// RPCNotImplemented is true when the picker was reachable but this
	// module has no generated client stub to actually call it. Endpoint is
	// still the base-set fallback chosen under FailureMode, same as an
	// unavailable picker; callers must not treat a non-error return here as
	// "the picker chose this endpoint."
	RPCNotImplemented bool
}

// Pick consults spec.PickerTarget for an endpoint among base, honoring
// FailureMode on unreachability. base is addressed by index rather than
// copied, mirroring how Selector hands out pointers into a Backend's
// Endpoints slice.
//
// The picker's RPC itself is not implemented: the wire contract is the
// external "Endpoint Picker Protocol" used by inference gateways, and no
// generated client stub for that protobuf service is vendored here. Pick
// only verifies the picker is dialable; once it is, it falls back to the
// base endpoint set via the same FailureMode-gated path used for an
// unreachable picker, with RPCNotImplemented set so the caller can tell
// the two cases apart.
func (p *Picker) Pick(ctx context.Context, spec *config.InferenceRoutingSpec, base []config.Endpoint) (PickResult, error) {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = 100 * time.Millisecond
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := p.dial(callCtx, spec.PickerTarget)
	if err != nil {
		return p.onUnavailable(spec, base, err)
	}
	defer conn.Close()

	if state := conn.GetState(); state.String() == "TRANSIENT_FAILURE" {
		return p.onUnavailable(spec, base, err)
	}

	return p.notImplemented(spec, base)
}

func (p *Picker) onUnavailable(spec *config.InferenceRoutingSpec, base []config.Endpoint, err error) (PickResult, error) {
	inferenceLogger.Warn("inference endpoint picker unavailable", "target", spec.PickerTarget, "err", err)
	if spec.FailureMode == config.FailClosed {
		return PickResult{PickerUnavailable: true}, nil
	}
	if len(base) == 0 {
		return PickResult{PickerUnavailable: true}, nil
	}
	return PickResult{Endpoint: &base[0], PickerUnavailable: true}, nil
}

func (p *Picker) notImplemented(spec *config.InferenceRoutingSpec, base []config.Endpoint) (PickResult, error) {
	inferenceLogger.Warn("using base endpoint set", "target", spec.PickerTarget, "err", errPickerRPCNotImplemented)
	if spec.FailureMode == config.FailClosed {
		return PickResult{RPCNotImplemented: true}, nil
	}
	if len(base) == 0 {
		return PickResult{RPCNotImplemented: true}, nil
	}
	return PickResult{Endpoint: &base[0], RPCNotImplemented: true}, nil
}
