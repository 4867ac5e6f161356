package server

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// --------------------------------------------------------------------------
// Hooks
// --------------------------------------------------------------------------

// RequestHook observes a request before it is executed. Returning a non nil
// response rejects the request: the response is sent as is and the request
// never reaches the store or the topic registry.
type RequestHook func(ctx context.Context, req *common.Request) *common.Response

// ResponseHook observes (and may modify) a response. Returning a non nil
// response replaces it and skips the remaining hooks of the chain.
type ResponseHook func(ctx context.Context, req *common.Request, resp *common.Response) *common.Response

// SentHook is called after the response has been written to the connection
type SentHook func(req *common.Request, resp *common.Response)

// Session is the view of a connection that the adapters need: subscriptions
// created by Subscribe belong to the connection that issued it.
type Session interface {
	// ID identifies the connection in logs
	ID() string
	// AddSubscription hands a new subscription to the connection. Events are
	// forwarded only after the Subscribe response has been written. release
	// is called if the connection goes away while it still owns sub.
	AddSubscription(sub *pubsub.Subscription, release func())
	// RemoveSubscription releases ownership, it returns false if the
	// connection doesn't own a subscription with that topic and id.
	RemoveSubscription(topic string, id uint32) bool
}

// --------------------------------------------------------------------------
// Command Service
// --------------------------------------------------------------------------

// CommandService runs a request through its life cycle:
//
//	Received -> PreProcessed -> Executed -> PostProcessed -> Sent
//
// OnReceived hooks see the decoded request, then the request is dispatched to
// either the store adapter or the pub/sub adapter. OnExecuted and OnBeforeSend
// hooks see the response before it is serialized, OnAfterSend hooks after
// the connection handler wrote it.
//
// Hooks must be registered before the service handles its first request.
type CommandService struct {
	store  IRPCServerAdapter
	pubsub IRPCServerAdapter

	onReceived   []RequestHook
	onExecuted   []ResponseHook
	onBeforeSend []ResponseHook
	onAfterSend  []SentHook
}

// NewCommandService creates a service dispatching storage requests to store and
// pub/sub requests to pubsub
func NewCommandService(store, pubsub IRPCServerAdapter) *CommandService {
	return &CommandService{store: store, pubsub: pubsub}
}

// OnReceived appends hooks to the request chain
func (s *CommandService) OnReceived(hooks ...RequestHook) *CommandService {
	s.onReceived = append(s.onReceived, hooks...)
	return s
}

// OnExecuted appends hooks that run directly after dispatch
func (s *CommandService) OnExecuted(hooks ...ResponseHook) *CommandService {
	s.onExecuted = append(s.onExecuted, hooks...)
	return s
}

// OnBeforeSend appends hooks that run after the OnExecuted chain
func (s *CommandService) OnBeforeSend(hooks ...ResponseHook) *CommandService {
	s.onBeforeSend = append(s.onBeforeSend, hooks...)
	return s
}

// OnAfterSend appends hooks that run once the response is on the wire
func (s *CommandService) OnAfterSend(hooks ...SentHook) *CommandService {
	s.onAfterSend = append(s.onAfterSend, hooks...)
	return s
}

// Execute runs req through the hook chains and the matching adapter and
// returns the response to send. It never returns nil.
func (s *CommandService) Execute(ctx context.Context, sess Session, req *common.Request) *common.Response {
	for _, hook := range s.onReceived {
		if resp := hook(ctx, req); resp != nil {
			return resp
		}
	}

	resp := s.dispatch(ctx, sess, req)
	resp = runResponseHooks(ctx, s.onExecuted, req, resp)
	return runResponseHooks(ctx, s.onBeforeSend, req, resp)
}

// AfterSend runs the OnAfterSend hooks
func (s *CommandService) AfterSend(req *common.Request, resp *common.Response) {
	for _, hook := range s.onAfterSend {
		hook(req, resp)
	}
}

func (s *CommandService) dispatch(ctx context.Context, sess Session, req *common.Request) (resp *common.Response) {
	defer func() {
		if r := recover(); r != nil {
			Logger.Errorf("panic while handling %s request: %v", req.Type, r)
			resp = common.NewErrorResponsef(req.Type, common.StatusInternalError, "internal error: %v", r)
		}
	}()

	var adapter IRPCServerAdapter
	switch {
	case req.Type.IsStorage():
		adapter = s.store
	case req.Type.IsPubSub():
		adapter = s.pubsub
	}
	if adapter == nil {
		return common.NewErrorResponse(common.MsgTError, common.StatusBadRequest,
			fmt.Sprintf("unsupported request type: %s", req.Type))
	}

	resp = adapter.Handle(ctx, sess, req)
	if resp == nil {
		return common.NewErrorResponse(req.Type, common.StatusInternalError, "no response")
	}
	return resp
}

func runResponseHooks(ctx context.Context, hooks []ResponseHook, req *common.Request, resp *common.Response) *common.Response {
	for _, hook := range hooks {
		if replaced := hook(ctx, req, resp); replaced != nil {
			return replaced
		}
	}
	return resp
}
