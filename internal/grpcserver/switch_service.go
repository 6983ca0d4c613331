package grpcserver

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/signalsfoundry/switchagent/internal/hw"
	"github.com/signalsfoundry/switchagent/internal/logging"
	"github.com/signalsfoundry/switchagent/internal/sai"
	"github.com/signalsfoundry/switchagent/internal/switchd"
	"github.com/signalsfoundry/switchagent/model"
)

// SwitchServiceName is the fully qualified gRPC service name.
const SwitchServiceName = "switchagent.v1.Switch"

// SwitchBackend is the part of the orchestrator exposed over gRPC.
type SwitchBackend interface {
	Snapshot() *model.SwitchState
	Port(id model.PortID) (switchd.PortInfo, bool)
	ResolvePort(handle sai.ObjectID) (model.PortID, error)
	ResolveInterface(handle sai.ObjectID) (model.InterfaceID, error)
	ResolveAclEntry(handle sai.ObjectID) (model.AclEntryID, error)
	Reconcile(ctx context.Context) (int, error)
}

// SwitchServer is the server API for the switchagent.v1.Switch service. The
// messages are protobuf well-known types.
type SwitchServer interface {
	GetState(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	GetPort(context.Context, *wrapperspb.UInt32Value) (*structpb.Struct, error)
	ResolveHandle(context.Context, *wrapperspb.UInt64Value) (*structpb.Struct, error)
	Reconcile(context.Context, *emptypb.Empty) (*wrapperspb.UInt32Value, error)
}

// SwitchService implements SwitchServer over a SwitchBackend.
type SwitchService struct {
	sw  SwitchBackend
	log logging.Logger
}

// NewSwitchService constructs a SwitchService.
func NewSwitchService(sw SwitchBackend, log logging.Logger) *SwitchService {
	if log == nil {
		log = logging.Noop()
	}
	return &SwitchService{sw: sw, log: log}
}

// GetState returns the desired switch configuration.
func (s *SwitchService) GetState(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	data, err := json.Marshal(s.sw.Snapshot())
	if err != nil {
		return nil, ToStatusError(err)
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, ToStatusError(err)
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}

// GetPort returns the port controller view of one port.
func (s *SwitchService) GetPort(ctx context.Context, req *wrapperspb.UInt32Value) (*structpb.Struct, error) {
	id := model.PortID(req.GetValue())
	info, ok := s.sw.Port(id)
	if !ok {
		return nil, ToStatusError(fmt.Errorf("%w: port %d", hw.ErrNotFound, id))
	}
	st, err := structpb.NewStruct(map[string]any{
		"id":          float64(info.ID),
		"handle":      info.Handle.String(),
		"state":       info.State.String(),
		"adminUp":     info.AdminUp,
		"linkUp":      info.LinkUp,
		"ingressVlan": float64(info.IngressVlan),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}

// ResolveHandle maps a hardware handle back to the logical object owning it.
func (s *SwitchService) ResolveHandle(ctx context.Context, req *wrapperspb.UInt64Value) (*structpb.Struct, error) {
	handle := sai.ObjectID(req.GetValue())
	t := sai.ObjectTypeOf(handle)

	var (
		id  uint32
		err error
	)
	switch t {
	case sai.ObjectTypePort:
		var pid model.PortID
		pid, err = s.sw.ResolvePort(handle)
		id = uint32(pid)
	case sai.ObjectTypeRouterInterface:
		var iid model.InterfaceID
		iid, err = s.sw.ResolveInterface(handle)
		id = uint32(iid)
	case sai.ObjectTypeAclEntry:
		var aid model.AclEntryID
		aid, err = s.sw.ResolveAclEntry(handle)
		id = uint32(aid)
	default:
		err = fmt.Errorf("%w: handle %s has object type %s", ErrInvalidArgument, handle, t)
	}
	if err != nil {
		return nil, ToStatusError(err)
	}

	st, err := structpb.NewStruct(map[string]any{
		"type": t.String(),
		"id":   float64(id),
	})
	if err != nil {
		return nil, ToStatusError(err)
	}
	return st, nil
}

// Reconcile runs a reconciliation pass and returns the number of repairs.
func (s *SwitchService) Reconcile(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt32Value, error) {
	n, err := s.sw.Reconcile(ctx)
	if err != nil {
		logging.LoggerFromContext(ctx).Warn(ctx, "on-demand reconcile failed", logging.Err(err))
		return nil, ToStatusError(err)
	}
	return wrapperspb.UInt32(uint32(n)), nil
}

// RegisterSwitchServer registers srv on s.
func RegisterSwitchServer(s grpc.ServiceRegistrar, srv SwitchServer) {
	s.RegisterService(&switchServiceDesc, srv)
}

var switchServiceDesc = grpc.ServiceDesc{
	ServiceName: SwitchServiceName,
	HandlerType: (*SwitchServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetState",
			Handler: unaryHandler[emptypb.Empty]("GetState", func(s SwitchServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.GetState(ctx, in)
			}),
		},
		{
			MethodName: "GetPort",
			Handler: unaryHandler[wrapperspb.UInt32Value]("GetPort", func(s SwitchServer, ctx context.Context, in *wrapperspb.UInt32Value) (any, error) {
				return s.GetPort(ctx, in)
			}),
		},
		{
			MethodName: "ResolveHandle",
			Handler: unaryHandler[wrapperspb.UInt64Value]("ResolveHandle", func(s SwitchServer, ctx context.Context, in *wrapperspb.UInt64Value) (any, error) {
				return s.ResolveHandle(ctx, in)
			}),
		},
		{
			MethodName: "Reconcile",
			Handler: unaryHandler[emptypb.Empty]("Reconcile", func(s SwitchServer, ctx context.Context, in *emptypb.Empty) (any, error) {
				return s.Reconcile(ctx, in)
			}),
		},
	},
	Streams: []grpc.StreamDesc{},
}

// unaryHandler builds the method handler protoc-gen-go-grpc would generate
// for one unary method.
func unaryHandler[T any, PT interface {
	*T
	proto.Message
}](method string, call func(SwitchServer, context.Context, PT) (any, error)) grpc.MethodHandler {
	fullMethod := "/" + SwitchServiceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := PT(new(T))
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(SwitchServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(SwitchServer), ctx, req.(PT))
		})
	}
}

// SwitchClient is a client for the switchagent.v1.Switch service.
type SwitchClient struct {
	cc grpc.ClientConnInterface
}

// NewSwitchClient wraps cc.
func NewSwitchClient(cc grpc.ClientConnInterface) *SwitchClient {
	return &SwitchClient{cc: cc}
}

func (c *SwitchClient) GetState(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+SwitchServiceName+"/GetState", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SwitchClient) GetPort(ctx context.Context, id model.PortID, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+SwitchServiceName+"/GetPort", wrapperspb.UInt32(uint32(id)), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SwitchClient) ResolveHandle(ctx context.Context, handle sai.ObjectID, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, "/"+SwitchServiceName+"/ResolveHandle", wrapperspb.UInt64(uint64(handle)), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *SwitchClient) Reconcile(ctx context.Context, opts ...grpc.CallOption) (uint32, error) {
	out := new(wrapperspb.UInt32Value)
	if err := c.cc.Invoke(ctx, "/"+SwitchServiceName+"/Reconcile", &emptypb.Empty{}, out, opts...); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}
