package sim

import (
	"context"
	"net/http"

	"code.cloudfoundry.org/lager"
	"github.com/tedsuo/rata"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"quorumbench/internal/store"
)

// Follower applies writes replicated by the leader and exposes its data
// over GET /dump.
type Follower struct {
	logger lager.Logger
	id     string
	store  *Store
}

func NewFollower(logger lager.Logger, id string) *Follower {
	return &Follower{
		logger: logger.Session("follower", lager.Data{"id": id}),
		id:     id,
		store:  NewStore(),
	}
}

func (f *Follower) ID() string {
	return f.id
}

func (f *Follower) Store() *Store {
	return f.store
}

// Apply implements ReplicaServer.
func (f *Follower) Apply(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	key, value, err := ParseApplyRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	f.store.Put(key, value)
	f.logger.Debug("applied", lager.Data{"key": key})

	return &emptypb.Empty{}, nil
}

// Handler serves store.NodeRoutes.
func (f *Follower) Handler() (http.Handler, error) {
	return rata.NewRouter(store.NodeRoutes, rata.Handlers{
		store.DumpRoute: dumpHandler(f.store),
	})
}
