package server

import (
	"context"

	"github.com/ValentinKolb/sKV/rpc/common"
)

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for turning a request into a response
type IRPCServerAdapter interface {
	// Handle handles a request and returns a response.
	// Errors are reported in the response, Handle never returns nil.
	Handle(ctx context.Context, sess Session, req *common.Request) (resp *common.Response)
}
