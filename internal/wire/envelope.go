// Package wire defines the envelopes exchanged with a remote peer.
//
// Envelopes use the protobuf wire format with fixed field numbers:
//
//	Request: 1 action (string), 2 payload (bytes),
//	         3 traceparent (string), 4 tracestate (string)
//	Reply:   1 success (bool), 2 payload (bytes), 3 error (string)
//
// Unknown fields are skipped, so newer peers may add fields without breaking
// older callers. The action identifier is the only contract field on the wire.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	requestActionField  protowire.Number = 1
	requestPayloadField protowire.Number = 2
	requestParentField  protowire.Number = 3
	requestStateField   protowire.Number = 4

	replySuccessField protowire.Number = 1
	replyPayloadField protowire.Number = 2
	replyErrorField   protowire.Number = 3
)

// MaxEnvelopeBytes bounds a single envelope.
const MaxEnvelopeBytes = 8 * 1024 * 1024

var (
	// ErrTruncated is returned when an envelope ends mid-field.
	ErrTruncated = errors.New("wire: truncated envelope")
	// ErrTooLarge is returned for envelopes above MaxEnvelopeBytes.
	ErrTooLarge = errors.New("wire: envelope too large")
	// ErrMissingAction is returned for a request without an action.
	ErrMissingAction = errors.New("wire: request has no action")
	// ErrMissingStatus is returned for a reply without a success field.
	ErrMissingStatus = errors.New("wire: reply has no success field")
)

// Request is the outbound envelope. TraceParent and TraceState carry the W3C
// trace context of the caller and may be empty.
type Request struct {
	Action      string
	Payload     []byte
	TraceParent string
	TraceState  string
}

// Reply is the inbound envelope. Payload is set on success, Error otherwise.
type Reply struct {
	Success bool
	Payload []byte
	Error   string
}

// Success builds a successful reply.
func Success(payload []byte) *Reply {
	return &Reply{Success: true, Payload: payload}
}

// Failure builds a failed reply carrying a description.
func Failure(description string) *Reply {
	return &Reply{Error: description}
}

// Marshal encodes the request envelope.
func (r *Request) Marshal() ([]byte, error) {
	if r.Action == "" {
		return nil, ErrMissingAction
	}
	b := make([]byte, 0, len(r.Action)+len(r.Payload)+16)
	b = protowire.AppendTag(b, requestActionField, protowire.BytesType)
	b = protowire.AppendString(b, r.Action)
	if len(r.Payload) > 0 {
		b = protowire.AppendTag(b, requestPayloadField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	if r.TraceParent != "" {
		b = protowire.AppendTag(b, requestParentField, protowire.BytesType)
		b = protowire.AppendString(b, r.TraceParent)
	}
	if r.TraceState != "" {
		b = protowire.AppendTag(b, requestStateField, protowire.BytesType)
		b = protowire.AppendString(b, r.TraceState)
	}
	if len(b) > MaxEnvelopeBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(b))
	}
	return b, nil
}

// UnmarshalRequest decodes a request envelope.
func UnmarshalRequest(data []byte) (*Request, error) {
	if len(data) > MaxEnvelopeBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	r := &Request{}
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == requestActionField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			r.Action = v
			return n, nil
		case num == requestPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			r.Payload = append([]byte(nil), v...)
			return n, nil
		case num == requestParentField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			r.TraceParent = v
			return n, nil
		case num == requestStateField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			r.TraceState = v
			return n, nil
		}
		return skip, nil
	})
	if err != nil {
		return nil, err
	}
	if r.Action == "" {
		return nil, ErrMissingAction
	}
	return r, nil
}

// Marshal encodes the reply envelope.
func (r *Reply) Marshal() ([]byte, error) {
	b := make([]byte, 0, len(r.Payload)+len(r.Error)+16)
	b = protowire.AppendTag(b, replySuccessField, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(r.Success))
	if len(r.Payload) > 0 {
		b = protowire.AppendTag(b, replyPayloadField, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Payload)
	}
	if r.Error != "" {
		b = protowire.AppendTag(b, replyErrorField, protowire.BytesType)
		b = protowire.AppendString(b, r.Error)
	}
	if len(b) > MaxEnvelopeBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(b))
	}
	return b, nil
}

// UnmarshalReply decodes a reply envelope.
func UnmarshalReply(data []byte) (*Reply, error) {
	if len(data) > MaxEnvelopeBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, len(data))
	}
	r := &Reply{}
	hasStatus := false
	err := walk(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == replySuccessField && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, nil
			}
			r.Success = protowire.DecodeBool(v)
			hasStatus = true
			return n, nil
		case num == replyPayloadField && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, nil
			}
			r.Payload = append([]byte(nil), v...)
			return n, nil
		case num == replyErrorField && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return n, nil
			}
			r.Error = v
			return n, nil
		}
		return skip, nil
	})
	if err != nil {
		return nil, err
	}
	// Marshal always writes the success field.
	if !hasStatus {
		return nil, ErrMissingStatus
	}
	return r, nil
}

// skip tells walk that the visitor did not consume the field.
const skip = 0

// walk iterates over the fields of data. visit returns the number of bytes
// it consumed after the tag, skip to let walk discard an unknown field, or a
// negative protowire error code.
func walk(data []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrTruncated, protowire.ParseError(n))
		}
		data = data[n:]

		m, err := visit(num, typ, data)
		if err != nil {
			return err
		}
		if m == skip {
			m = protowire.ConsumeFieldValue(num, typ, data)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrTruncated, num, protowire.ParseError(m))
		}
		data = data[m:]
	}
	return nil
}
