package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/pubsub"
	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
)

// NewPubSubServerAdapter creates the adapter that executes Subscribe,
// Unsubscribe and Publish requests on the registry
func NewPubSubServerAdapter(registry *pubsub.Registry) IRPCServerAdapter {
	return &pubSubServerAdapterImpl{registry: registry}
}

type pubSubServerAdapterImpl struct {
	registry *pubsub.Registry
}

func (adapter *pubSubServerAdapterImpl) Handle(ctx context.Context, sess Session, req *common.Request) *common.Response {
	if adapter.registry == nil {
		return common.NewErrorResponse(req.Type, common.StatusInternalError, "handler: registry is nil")
	}
	if req.Topic == "" {
		return common.NewErrorResponse(req.Type, common.StatusBadRequest, "topic must not be empty")
	}

	switch req.Type {
	case common.MsgTSubscribe:
		if sess == nil {
			return common.NewErrorResponse(req.Type, common.StatusBadRequest, "subscribe requires a connection")
		}
		sub, err := adapter.registry.Subscribe(req.Topic)
		if err != nil {
			return common.NewErrorResponse(req.Type, common.StatusInternalError, err.Error())
		}
		sess.AddSubscription(sub, func() {
			_ = adapter.registry.Unsubscribe(sub.Topic, sub.ID)
		})
		return common.NewSubscribeResponse(sub.Topic, sub.ID)

	case common.MsgTUnsubscribe:
		// only the owning connection may cancel a subscription, anything else is a no-op
		if sess != nil && sess.RemoveSubscription(req.Topic, req.SubscriptionID) {
			err := adapter.registry.Unsubscribe(req.Topic, req.SubscriptionID)
			if err != nil && !errors.Is(err, pubsub.ErrSubscriptionNotFound) {
				return common.NewErrorResponse(req.Type, common.StatusInternalError, err.Error())
			}
		}
		return common.NewOKResponse(req.Type)

	case common.MsgTPublish:
		if !req.Value.IsValid() {
			return common.NewErrorResponse(req.Type, common.StatusBadRequest, "publish requires a value")
		}
		res := adapter.registry.Publish(ctx, req.Topic, req.Value)
		return common.NewOKResponse(req.Type, store.NewInt(int64(res.Delivered)))

	default:
		return common.NewErrorResponse(req.Type, common.StatusBadRequest,
			fmt.Sprintf("pubsub adapter: unsupported message type: %s", req.Type))
	}
}
