package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/sKV/lib/store"
)

// --------------------------------------------------------------------------
// Request / Response Structure
// --------------------------------------------------------------------------

// Request is sent from the client to the server. Which fields are used depends on the type.
type Request struct {
	// Type of request
	Type MessageType `json:"type"`

	Key            string      `json:"key,omitempty"`             // Used for: Get, Set, Delete, Contains
	Value          store.Value `json:"value"`                     // Used for: Set, Publish
	Topic          string      `json:"topic,omitempty"`           // Used for: Subscribe, Unsubscribe, Publish
	SubscriptionID uint32      `json:"subscription_id,omitempty"` // Used for: Unsubscribe
	Prefix         string      `json:"prefix,omitempty"`          // Used for: Scan

	Keys  []string       `json:"keys,omitempty"`  // Used for: MGet, MDelete, MContains
	Pairs []store.Kvpair `json:"pairs,omitempty"` // Used for: MSet
}

// Response is sent from the server to the client. Every request yields exactly one
// response, asynchronous events of a subscription are sent as responses of type MsgTEvent.
type Response struct {
	// Type echoes the type of the request, MsgTEvent for published values
	Type   MessageType `json:"type"`
	Status StatusCode  `json:"status"`

	Values  []store.Value  `json:"values,omitempty"`  // Used for: Get, Set, Delete, Contains, Publish, events, one per key for the multi key types
	Pairs   []store.Kvpair `json:"pairs,omitempty"`   // Used for: GetAll, Scan
	Message string         `json:"message,omitempty"` // Error message if the status is not OK

	SubscriptionID uint32 `json:"subscription_id,omitempty"` // Used for: Subscribe, events (0 = absent)
	Topic          string `json:"topic,omitempty"`           // Used for: Subscribe, events
}

// IsEvent reports whether r is an asynchronous event and not the answer to a request
func (r *Response) IsEvent() bool { return r.Type == MsgTEvent }

// Err returns nil for successful responses and a *StatusError otherwise
func (r *Response) Err() error {
	if r.Status == StatusOK {
		return nil
	}
	return &StatusError{Type: r.Type, Status: r.Status, Message: r.Message}
}

// StatusError is the client side representation of a failed response
type StatusError struct {
	Type    MessageType
	Status  StatusCode
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed with status %d (%s)", e.Type, uint32(e.Status), e.Status)
	}
	return fmt.Sprintf("%s failed with status %d (%s): %s", e.Type, uint32(e.Status), e.Status, e.Message)
}

// --------------------------------------------------------------------------
// Request Factory Functions
// --------------------------------------------------------------------------

// NewGetRequest creates a new Get request
func NewGetRequest(key string) *Request {
	return &Request{Type: MsgTGet, Key: key}
}

// NewSetRequest creates a new Set request
func NewSetRequest(key string, value store.Value) *Request {
	return &Request{Type: MsgTSet, Key: key, Value: value}
}

// NewDeleteRequest creates a new Delete request
func NewDeleteRequest(key string) *Request {
	return &Request{Type: MsgTDelete, Key: key}
}

// NewContainsRequest creates a new Contains request
func NewContainsRequest(key string) *Request {
	return &Request{Type: MsgTContains, Key: key}
}

// NewGetAllRequest creates a new GetAll request
func NewGetAllRequest() *Request {
	return &Request{Type: MsgTGetAll}
}

// NewScanRequest creates a new Scan request for all keys starting with prefix
func NewScanRequest(prefix string) *Request {
	return &Request{Type: MsgTScan, Prefix: prefix}
}

// NewMGetRequest creates a new MGet request
func NewMGetRequest(keys ...string) *Request {
	return &Request{Type: MsgTMGet, Keys: keys}
}

// NewMSetRequest creates a new MSet request
func NewMSetRequest(pairs []store.Kvpair) *Request {
	return &Request{Type: MsgTMSet, Pairs: pairs}
}

// NewMDeleteRequest creates a new MDelete request
func NewMDeleteRequest(keys ...string) *Request {
	return &Request{Type: MsgTMDelete, Keys: keys}
}

// NewMContainsRequest creates a new MContains request
func NewMContainsRequest(keys ...string) *Request {
	return &Request{Type: MsgTMContains, Keys: keys}
}

// NewSubscribeRequest creates a new Subscribe request
func NewSubscribeRequest(topic string) *Request {
	return &Request{Type: MsgTSubscribe, Topic: topic}
}

// NewUnsubscribeRequest creates a new Unsubscribe request
func NewUnsubscribeRequest(topic string, id uint32) *Request {
	return &Request{Type: MsgTUnsubscribe, Topic: topic, SubscriptionID: id}
}

// NewPublishRequest creates a new Publish request
func NewPublishRequest(topic string, value store.Value) *Request {
	return &Request{Type: MsgTPublish, Topic: topic, Value: value}
}

// --------------------------------------------------------------------------
// Response Factory Functions
// --------------------------------------------------------------------------

// NewOKResponse creates a successful response carrying values
func NewOKResponse(t MessageType, values ...store.Value) *Response {
	return &Response{Type: t, Status: StatusOK, Values: values}
}

// NewPairsResponse creates a successful GetAll or Scan response
func NewPairsResponse(t MessageType, pairs []store.Kvpair) *Response {
	return &Response{Type: t, Status: StatusOK, Pairs: pairs}
}

// NewSubscribeResponse creates the response for a successful subscription
func NewSubscribeResponse(topic string, id uint32) *Response {
	return &Response{Type: MsgTSubscribe, Status: StatusOK, Topic: topic, SubscriptionID: id}
}

// NewEventResponse creates an asynchronous event for a published value
func NewEventResponse(topic string, id uint32, value store.Value) *Response {
	return &Response{
		Type:           MsgTEvent,
		Status:         StatusOK,
		Topic:          topic,
		SubscriptionID: id,
		Values:         []store.Value{value},
	}
}

// NewErrorResponse creates a failed response
func NewErrorResponse(t MessageType, status StatusCode, msg string) *Response {
	return &Response{Type: t, Status: status, Message: msg}
}

// NewErrorResponsef creates a failed response with a formatted message
func NewErrorResponsef(t MessageType, status StatusCode, format string, args ...interface{}) *Response {
	return NewErrorResponse(t, status, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Status Codes
// --------------------------------------------------------------------------

// StatusCode is the (HTTP like) outcome of a request
type StatusCode uint32

const (
	StatusOK            StatusCode = 200 // Request executed successfully
	StatusBadRequest    StatusCode = 400 // Malformed request (InvalidArgument)
	StatusForbidden     StatusCode = 403 // Rejected by a request hook
	StatusNotFound      StatusCode = 404 // Key not found
	StatusInternalError StatusCode = 500 // Storage failure or internal error
)

func (s StatusCode) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBadRequest:
		return "BadRequest"
	case StatusForbidden:
		return "Forbidden"
	case StatusNotFound:
		return "NotFound"
	case StatusInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("Status(%d)", uint32(s))
	}
}

// StatusFromRetCode maps store errors to response status codes
func StatusFromRetCode(code store.RetCode) StatusCode {
	switch code {
	case store.RetCSuccess:
		return StatusOK
	case store.RetCInvalidArgument, store.RetCInvalidOperation, store.RetCUnsupportedOperation:
		return StatusBadRequest
	default:
		return StatusInternalError
	}
}

// --------------------------------------------------------------------------
// Message Types
// --------------------------------------------------------------------------

// MessageType defines the type of request (and the matching response).
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTGet:
		return "get"
	case MsgTSet:
		return "set"
	case MsgTDelete:
		return "delete"
	case MsgTContains:
		return "contains"
	case MsgTGetAll:
		return "getall"
	case MsgTScan:
		return "scan"
	case MsgTMGet:
		return "mget"
	case MsgTMSet:
		return "mset"
	case MsgTMDelete:
		return "mdelete"
	case MsgTMContains:
		return "mcontains"
	case MsgTSubscribe:
		return "subscribe"
	case MsgTUnsubscribe:
		return "unsubscribe"
	case MsgTPublish:
		return "publish"
	case MsgTEvent:
		return "event"
	case MsgTError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseMessageType is the inverse of MessageType.String
func ParseMessageType(s string) (MessageType, error) {
	for t := MsgTUnknown + 1; t <= msgTLast; t++ {
		if t.String() == s {
			return t, nil
		}
	}
	return MsgTUnknown, fmt.Errorf("unknown message type: %s", s)
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseMessageType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

const (
	MsgTUnknown MessageType = iota

	// Storage operations
	MsgTGet      // Get the value of a key
	MsgTSet      // Set a key-value pair
	MsgTDelete   // Delete a key
	MsgTContains // Check whether a key exists
	MsgTGetAll   // Get all pairs
	MsgTScan     // Get all pairs with a key prefix

	// Multi key storage operations, one result value per key
	MsgTMGet      // Get the values of several keys
	MsgTMSet      // Set several key-value pairs
	MsgTMDelete   // Delete several keys
	MsgTMContains // Check which of several keys exist

	// Pub/Sub operations
	MsgTSubscribe   // Subscribe to a topic
	MsgTUnsubscribe // Cancel a subscription
	MsgTPublish     // Publish a value to a topic
	MsgTEvent       // Published value (server to client only)

	// Control messages
	MsgTError // Response to a request that could not be decoded or dispatched

	msgTLast = MsgTError
)

// IsStorage reports whether requests of this type are dispatched to the store
func (t MessageType) IsStorage() bool { return t >= MsgTGet && t <= MsgTMContains }

// IsMulti reports whether requests of this type carry Keys or Pairs instead of Key
func (t MessageType) IsMulti() bool { return t >= MsgTMGet && t <= MsgTMContains }

// IsPubSub reports whether requests of this type are dispatched to the topic registry
func (t MessageType) IsPubSub() bool { return t >= MsgTSubscribe && t <= MsgTPublish }
