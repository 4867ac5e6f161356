package server

import (
	"context"
	"fmt"
	"strings"

	"github.com/ValentinKolb/sKV/lib/store"
	"github.com/ValentinKolb/sKV/rpc/common"
	"github.com/VictoriaMetrics/metrics"
	"github.com/lni/dragonboat/v4/logger"
)

// NewKeyValidator rejects requests with an empty or oversized key, topic or
// value with a 400 response. A limit <= 0 disables that size check.
func NewKeyValidator(maxKeySize, maxValueSize int) RequestHook {
	return func(_ context.Context, req *common.Request) *common.Response {
		reject := func(format string, args ...interface{}) *common.Response {
			return common.NewErrorResponsef(req.Type, common.StatusBadRequest, format, args...)
		}
		checkKey := func(key string) *common.Response {
			if key == "" {
				return reject("key must not be empty")
			}
			if maxKeySize > 0 && len(key) > maxKeySize {
				return reject("key too large: %d > %d bytes", len(key), maxKeySize)
			}
			return nil
		}
		checkValue := func(v store.Value) *common.Response {
			if !v.IsValid() {
				return reject("%s requires a value", req.Type)
			}
			if maxValueSize > 0 && v.Size() > maxValueSize {
				return reject("value too large: %d > %d bytes", v.Size(), maxValueSize)
			}
			return nil
		}

		switch req.Type {
		case common.MsgTGet, common.MsgTSet, common.MsgTDelete, common.MsgTContains:
			if resp := checkKey(req.Key); resp != nil {
				return resp
			}
		case common.MsgTMGet, common.MsgTMDelete, common.MsgTMContains:
			if len(req.Keys) == 0 {
				return reject("%s requires at least one key", req.Type)
			}
			for _, key := range req.Keys {
				if resp := checkKey(key); resp != nil {
					return resp
				}
			}
		case common.MsgTMSet:
			if len(req.Pairs) == 0 {
				return reject("%s requires at least one pair", req.Type)
			}
			for _, p := range req.Pairs {
				if resp := checkKey(p.Key); resp != nil {
					return resp
				}
				if resp := checkValue(p.Value); resp != nil {
					return resp
				}
			}
		case common.MsgTScan:
			if maxKeySize > 0 && len(req.Prefix) > maxKeySize {
				return reject("prefix too large: %d > %d bytes", len(req.Prefix), maxKeySize)
			}
		case common.MsgTSubscribe, common.MsgTUnsubscribe, common.MsgTPublish:
			if req.Topic == "" {
				return reject("topic must not be empty")
			}
			if maxKeySize > 0 && len(req.Topic) > maxKeySize {
				return reject("topic too large: %d > %d bytes", len(req.Topic), maxKeySize)
			}
		}

		if req.Type == common.MsgTSet || req.Type == common.MsgTPublish {
			return checkValue(req.Value)
		}
		return nil
	}
}

// NewKeyGuard rejects writes and deletes of keys starting with one of the
// protected prefixes with a 403 response. Reads are allowed. A multi key
// request is rejected as a whole if any of its keys is protected.
func NewKeyGuard(prefixes ...string) RequestHook {
	return func(_ context.Context, req *common.Request) *common.Response {
		var keys []string
		switch req.Type {
		case common.MsgTSet, common.MsgTDelete:
			keys = []string{req.Key}
		case common.MsgTMDelete:
			keys = req.Keys
		case common.MsgTMSet:
			for _, p := range req.Pairs {
				keys = append(keys, p.Key)
			}
		default:
			return nil
		}

		for _, key := range keys {
			for _, prefix := range prefixes {
				if prefix != "" && strings.HasPrefix(key, prefix) {
					return common.NewErrorResponsef(req.Type, common.StatusForbidden,
						"key %q is protected (prefix %q)", key, prefix)
				}
			}
		}
		return nil
	}
}

// NewLoggingHooks returns a request and a response hook that log every
// request and its outcome on debug level
func NewLoggingHooks(log logger.ILogger) (RequestHook, ResponseHook) {
	received := func(_ context.Context, req *common.Request) *common.Response {
		log.Debugf("received %s", describe(req))
		return nil
	}
	executed := func(_ context.Context, req *common.Request, resp *common.Response) *common.Response {
		if resp.Status != common.StatusOK {
			log.Debugf("executed %s: %d %s", describe(req), resp.Status, resp.Message)
		} else {
			log.Debugf("executed %s: %d", describe(req), resp.Status)
		}
		return nil
	}
	return received, executed
}

func describe(req *common.Request) string {
	switch {
	case req.Type.IsPubSub():
		return fmt.Sprintf("%s topic=%q", req.Type, req.Topic)
	case req.Type == common.MsgTScan:
		return fmt.Sprintf("%s prefix=%q", req.Type, req.Prefix)
	case req.Type == common.MsgTGetAll:
		return req.Type.String()
	case req.Type == common.MsgTMSet:
		return fmt.Sprintf("%s pairs=%d", req.Type, len(req.Pairs))
	case req.Type.IsMulti():
		return fmt.Sprintf("%s keys=%d", req.Type, len(req.Keys))
	default:
		return fmt.Sprintf("%s key=%q", req.Type, req.Key)
	}
}

// NewMetricsHooks counts every executed request per type and status on set as
//
//	skv_requests_total{type="get",status="404"}
func NewMetricsHooks(set *metrics.Set) ResponseHook {
	return func(_ context.Context, req *common.Request, resp *common.Response) *common.Response {
		set.GetOrCreateCounter(requestCounterName(req.Type, resp.Status)).Inc()
		return nil
	}
}

func requestCounterName(t common.MessageType, status common.StatusCode) string {
	return fmt.Sprintf(`skv_requests_total{type=%q,status="%d"}`, t.String(), uint32(status))
}
