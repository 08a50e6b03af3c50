package domain

import "time"

// FrameType names a wire frame. PUBLISH and EVENT share the "EVENT" label on
// the wire and are told apart by the presence of a subscription id.
type FrameType string

const (
	FrameEvent  FrameType = "EVENT"
	FrameReq    FrameType = "REQ"
	FrameClose  FrameType = "CLOSE"
	FrameOK     FrameType = "OK"
	FrameEOSE   FrameType = "EOSE"
	FrameNotice FrameType = "NOTICE"
	FrameClosed FrameType = "CLOSED"
)

// Frame is one decoded protocol message. Which fields are set depends on Type:
//
//	EVENT (publish)   Event
//	EVENT (delivery)  SubscriptionID, Event
//	REQ               SubscriptionID, Filter
//	CLOSE, EOSE       SubscriptionID
//	CLOSED            SubscriptionID, Message
//	OK                OK
//	NOTICE            Message
type Frame struct {
	Type           FrameType
	SubscriptionID string
	Event          *Event
	Filter         *Filter
	OK             *OKResult
	Message        string
}

// IsPublish reports whether f is a client-to-relay event submission.
func (f Frame) IsPublish() bool {
	return f.Type == FrameEvent && f.SubscriptionID == "" && f.Event != nil
}

// OKResult is a relay's verdict on a published event.
type OKResult struct {
	EventID  EventID
	Accepted bool
	Message  string
}

// PublishFrame wraps ev for submission.
func PublishFrame(ev Event) Frame { return Frame{Type: FrameEvent, Event: &ev} }

// SubscribeFrame installs filter under subID.
func SubscribeFrame(subID string, filter Filter) Frame {
	return Frame{Type: FrameReq, SubscriptionID: subID, Filter: &filter}
}

// CloseFrame cancels subID on a relay.
func CloseFrame(subID string) Frame { return Frame{Type: FrameClose, SubscriptionID: subID} }

// InboundFrame is a frame received from a specific relay.
type InboundFrame struct {
	Relay      string
	Frame      Frame
	ReceivedAt time.Time
}
