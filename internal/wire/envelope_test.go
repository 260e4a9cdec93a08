package wire

import (
	"bytes"
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestRequest_RoundTrip(t *testing.T) {
	in := &Request{
		Action:      "helloworld/sample",
		Payload:     []byte{0x0a, 0x01, 0x02},
		TraceParent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
	}
	data, err := in.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out, err := UnmarshalRequest(data)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if out.Action != in.Action || !bytes.Equal(out.Payload, in.Payload) || out.TraceParent != in.TraceParent {
		t.Fatalf("round trip mismatch: %+v", out)
	}
	if out.TraceState != "" {
		t.Fatalf("expected empty trace state, got %q", out.TraceState)
	}
}

func TestReply_RoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		reply *Reply
	}{
		{name: "success", reply: Success([]byte("payload"))},
		{name: "success empty payload", reply: Success(nil)},
		{name: "failure", reply: Failure("The request name is blank.")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.reply.Marshal()
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := UnmarshalReply(data)
			if err != nil {
				t.Fatalf("UnmarshalReply: %v", err)
			}
			if got.Success != tt.reply.Success || got.Error != tt.reply.Error || !bytes.Equal(got.Payload, tt.reply.Payload) {
				t.Fatalf("expected %+v, got %+v", tt.reply, got)
			}
		})
	}
}

func TestUnmarshal_SkipsUnknownFields(t *testing.T) {
	data, err := (&Request{Action: "a/b", Payload: []byte("x")}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	data = protowire.AppendTag(data, 15, protowire.VarintType)
	data = protowire.AppendVarint(data, 42)
	data = protowire.AppendTag(data, 16, protowire.BytesType)
	data = protowire.AppendString(data, "future")
	data = protowire.AppendTag(data, 17, protowire.Fixed64Type)
	data = protowire.AppendFixed64(data, 7)

	got, err := UnmarshalRequest(data)
	if err != nil {
		t.Fatalf("UnmarshalRequest: %v", err)
	}
	if got.Action != "a/b" || string(got.Payload) != "x" {
		t.Fatalf("unexpected request %+v", got)
	}

	reply, err := Success([]byte("ok")).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	reply = protowire.AppendTag(reply, 9, protowire.BytesType)
	reply = protowire.AppendBytes(reply, []byte("extra"))
	r, err := UnmarshalReply(reply)
	if err != nil {
		t.Fatalf("UnmarshalReply: %v", err)
	}
	if !r.Success || string(r.Payload) != "ok" {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestUnmarshal_Truncated(t *testing.T) {
	data, err := Failure("remote failure").Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for i := 1; i < len(data); i++ {
		// a prefix that ends on a field boundary is itself a valid reply
		if _, err := UnmarshalReply(data[:i]); err != nil && !errors.Is(err, ErrTruncated) && !errors.Is(err, ErrMissingStatus) {
			t.Fatalf("prefix %d: expected ErrTruncated, got %v", i, err)
		}
	}
	if _, err := UnmarshalReply([]byte{0x12, 0x05, 'a'}); !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestUnmarshalReply_MissingStatus(t *testing.T) {
	noStatus := protowire.AppendTag(nil, replyErrorField, protowire.BytesType)
	noStatus = protowire.AppendString(noStatus, "boom")

	for name, data := range map[string][]byte{
		"empty":     {},
		"nil":       nil,
		"no status": noStatus,
	} {
		if _, err := UnmarshalReply(data); !errors.Is(err, ErrMissingStatus) {
			t.Fatalf("%s: expected ErrMissingStatus, got %v", name, err)
		}
	}
}

func TestRequest_MissingAction(t *testing.T) {
	if _, err := (&Request{Payload: []byte("x")}).Marshal(); !errors.Is(err, ErrMissingAction) {
		t.Fatalf("expected ErrMissingAction, got %v", err)
	}
	if _, err := UnmarshalRequest(nil); !errors.Is(err, ErrMissingAction) {
		t.Fatalf("expected ErrMissingAction, got %v", err)
	}
}

func TestEnvelope_TooLarge(t *testing.T) {
	big := make([]byte, MaxEnvelopeBytes+1)
	if _, err := (&Request{Action: "a/b", Payload: big}).Marshal(); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	if _, err := UnmarshalReply(big); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
