package transport

import (
	"encoding/json"
	"errors"
	"fmt"

	"relaymesh/internal/domain"
)

// ErrMalformedFrame is returned for frames that cannot be decoded.
var ErrMalformedFrame = errors.New("transport: malformed frame")

// EncodeFrame renders f as a JSON array.
func EncodeFrame(f domain.Frame) ([]byte, error) {
	var arr []any
	switch f.Type {
	case domain.FrameEvent:
		if f.Event == nil {
			return nil, fmt.Errorf("%w: EVENT without event", ErrMalformedFrame)
		}
		if f.SubscriptionID == "" {
			arr = []any{f.Type, f.Event}
		} else {
			arr = []any{f.Type, f.SubscriptionID, f.Event}
		}
	case domain.FrameReq:
		if f.Filter == nil {
			return nil, fmt.Errorf("%w: REQ without filter", ErrMalformedFrame)
		}
		arr = []any{f.Type, f.SubscriptionID, f.Filter}
	case domain.FrameClose, domain.FrameEOSE:
		arr = []any{f.Type, f.SubscriptionID}
	case domain.FrameClosed:
		arr = []any{f.Type, f.SubscriptionID, f.Message}
	case domain.FrameNotice:
		arr = []any{f.Type, f.Message}
	case domain.FrameOK:
		if f.OK == nil {
			return nil, fmt.Errorf("%w: OK without result", ErrMalformedFrame)
		}
		arr = []any{f.Type, f.OK.EventID, f.OK.Accepted, f.OK.Message}
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedFrame, f.Type)
	}
	return json.Marshal(arr)
}

// DecodeFrame parses a JSON array frame.
func DecodeFrame(b []byte) (domain.Frame, error) {
	var arr []json.RawMessage
	if err := json.Unmarshal(b, &arr); err != nil {
		return domain.Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(arr) == 0 {
		return domain.Frame{}, fmt.Errorf("%w: empty array", ErrMalformedFrame)
	}
	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return domain.Frame{}, fmt.Errorf("%w: label: %v", ErrMalformedFrame, err)
	}

	f := domain.Frame{Type: domain.FrameType(label)}
	args := arr[1:]
	var err error
	switch f.Type {
	case domain.FrameEvent:
		switch len(args) {
		case 1:
			f.Event = new(domain.Event)
			err = json.Unmarshal(args[0], f.Event)
		case 2:
			f.Event = new(domain.Event)
			err = unmarshalAll(args, &f.SubscriptionID, f.Event)
		default:
			err = arity(label, len(args))
		}
	case domain.FrameReq:
		if len(args) < 2 {
			err = arity(label, len(args))
			break
		}
		f.Filter = new(domain.Filter)
		err = unmarshalAll(args[:2], &f.SubscriptionID, f.Filter)
	case domain.FrameClose, domain.FrameEOSE:
		if len(args) != 1 {
			err = arity(label, len(args))
			break
		}
		err = json.Unmarshal(args[0], &f.SubscriptionID)
	case domain.FrameClosed:
		if len(args) < 1 {
			err = arity(label, len(args))
			break
		}
		err = json.Unmarshal(args[0], &f.SubscriptionID)
		if err == nil && len(args) > 1 {
			err = json.Unmarshal(args[1], &f.Message)
		}
	case domain.FrameNotice:
		if len(args) != 1 {
			err = arity(label, len(args))
			break
		}
		err = json.Unmarshal(args[0], &f.Message)
	case domain.FrameOK:
		if len(args) < 2 {
			err = arity(label, len(args))
			break
		}
		f.OK = new(domain.OKResult)
		err = unmarshalAll(args[:2], &f.OK.EventID, &f.OK.Accepted)
		if err == nil && len(args) > 2 {
			err = json.Unmarshal(args[2], &f.OK.Message)
		}
	default:
		err = fmt.Errorf("unknown type %q", label)
	}
	if err != nil {
		return domain.Frame{}, fmt.Errorf("%w: %s: %v", ErrMalformedFrame, label, err)
	}
	return f, nil
}

func unmarshalAll(raw []json.RawMessage, dst ...any) error {
	for i, d := range dst {
		if err := json.Unmarshal(raw[i], d); err != nil {
			return err
		}
	}
	return nil
}

func arity(label string, n int) error {
	return fmt.Errorf("unexpected %d arguments for %s", n, label)
}
