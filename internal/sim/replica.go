package sim

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	replicaServiceName = "quorumbench.sim.Replica"
	applyMethod        = "/" + replicaServiceName + "/Apply"

	keyField   = "key"
	valueField = "value"
)

// ReplicaServer applies writes replicated by the leader. Requests carry the
// key and value as string fields of a Struct.
type ReplicaServer interface {
	Apply(context.Context, *structpb.Struct) (*emptypb.Empty, error)
}

// RegisterReplicaServer registers srv with s.
func RegisterReplicaServer(s *grpc.Server, srv ReplicaServer) {
	s.RegisterService(&replicaServiceDesc, srv)
}

var replicaServiceDesc = grpc.ServiceDesc{
	ServiceName: replicaServiceName,
	HandlerType: (*ReplicaServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Apply",
			Handler:    applyHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "quorumbench/sim/replica",
}

func applyHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicaServer).Apply(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: applyMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ReplicaServer).Apply(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// NewApplyRequest encodes a replicated write.
func NewApplyRequest(key, value string) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		keyField:   key,
		valueField: value,
	})
}

// ParseApplyRequest decodes a replicated write.
func ParseApplyRequest(req *structpb.Struct) (key, value string, err error) {
	fields := req.GetFields()
	key = fields[keyField].GetStringValue()
	if key == "" {
		return "", "", errors.New("key cannot be empty")
	}
	return key, fields[valueField].GetStringValue(), nil
}

// ReplicaClient sends replicated writes to one follower.
type ReplicaClient struct {
	conn *grpc.ClientConn
}

func (c *ReplicaClient) Apply(ctx context.Context, key, value string) error {
	req, err := NewApplyRequest(key, value)
	if err != nil {
		return fmt.Errorf("failed to encode write: %w", err)
	}
	return c.conn.Invoke(ctx, applyMethod, req, new(emptypb.Empty))
}

// ClientManager caches one gRPC connection per follower address.
// Connections are created lazily and never block on dialing.
type ClientManager struct {
	mu    sync.RWMutex
	conns map[string]*grpc.ClientConn
}

func NewClientManager() *ClientManager {
	return &ClientManager{
		conns: make(map[string]*grpc.ClientConn),
	}
}

// Get returns a client for the follower at addr.
func (cm *ClientManager) Get(addr string) (*ReplicaClient, error) {
	cm.mu.RLock()
	conn, exists := cm.conns[addr]
	cm.mu.RUnlock()

	if exists {
		return &ReplicaClient{conn: conn}, nil
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := cm.conns[addr]; exists {
		return &ReplicaClient{conn: conn}, nil
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", addr, err)
	}

	cm.conns[addr] = conn
	return &ReplicaClient{conn: conn}, nil
}

// Close closes every cached connection.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var result *multierror.Error
	for addr, conn := range cm.conns {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("closing %s: %w", addr, err))
		}
	}
	cm.conns = make(map[string]*grpc.ClientConn)

	return result.ErrorOrNil()
}
