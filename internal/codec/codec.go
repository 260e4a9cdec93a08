// Package codec serializes action messages to bytes and back.
//
// Two encoders are provided: a binary one (a protobuf Any wrapping a
// google.protobuf.Struct) and a JSON one (protojson of a Struct with "@type"
// and "value" keys). Both carry the message schema so that a decoder can
// detect a payload of the wrong type. Decoding sniffs the format from the
// first significant byte, so output from either encoder can be read by
// either codec and the choice of encoder never changes what the decoding
// side observes.
//
// Field values follow google.protobuf.Value semantics: numbers decode as
// float64, nested objects as map[string]any and lists as []any. Integers
// beyond ±2^53 and non-finite floats cannot be carried exactly and fail to
// encode under every codec.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/oriys/pulsar/internal/action"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// TypeURLPrefix namespaces message schemas inside encoded payloads.
const TypeURLPrefix = "type.pulsar.dev/"

const (
	NameProto = "proto"
	NameJSON  = "json"
)

const (
	jsonTypeKey  = "@type"
	jsonValueKey = "value"
)

var (
	errEmptyPayload   = errors.New("empty payload")
	errMissingType    = errors.New("payload has no type")
	errMissingValue   = errors.New("payload has no value")
	errForeignTypeURL = errors.New("payload type is not an action message")
)

// Codec encodes and decodes action messages.
type Codec interface {
	Name() string
	Encode(m action.Message) ([]byte, error)
	Decode(data []byte, into action.Message) error
}

// ByName returns the codec registered under name. An empty name selects the
// binary codec.
func ByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", NameProto, "protobuf", "binary":
		return Proto{}, nil
	case NameJSON:
		return JSON{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q (valid: %s, %s)", name, NameProto, NameJSON)
	}
}

// All returns every supported codec.
func All() []Codec {
	return []Codec{Proto{}, JSON{}}
}

// DecodeResponse decodes data into a fresh response of the given contract.
func DecodeResponse(c Codec, data []byte, typ action.Type) (action.Response, error) {
	resp := typ.NewResponse()
	if err := c.Decode(data, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func toStruct(m action.Message) (*structpb.Struct, error) {
	if m == nil {
		return nil, action.SerializationError("<nil>", errors.New("nil message"))
	}
	fields := m.Fields()
	for k, v := range fields {
		if err := checkValue(k, v); err != nil {
			return nil, action.SerializationError(m.Schema(), err)
		}
	}
	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, action.SerializationError(m.Schema(), err)
	}
	return st, nil
}

// maxExactInt is the largest magnitude a google.protobuf.Value number holds
// without losing integer precision.
const maxExactInt = 1 << 53

var (
	errInexactInt = errors.New("integer exceeds ±2^53")
	errNonFinite  = errors.New("number is not finite")
)

// checkValue rejects numbers that either encoder would alter or refuse, so
// that both codecs accept exactly the same messages.
func checkValue(path string, v any) error {
	switch v := v.(type) {
	case int:
		return checkInt(path, int64(v))
	case int32:
		return checkInt(path, int64(v))
	case int64:
		return checkInt(path, v)
	case uint:
		return checkUint(path, uint64(v))
	case uint32:
		return checkUint(path, uint64(v))
	case uint64:
		return checkUint(path, v)
	case float32:
		return checkFloat(path, float64(v))
	case float64:
		return checkFloat(path, v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return checkInt(path, n)
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		return checkFloat(path, f)
	case map[string]any:
		for k, elem := range v {
			if err := checkValue(path+"."+k, elem); err != nil {
				return err
			}
		}
	case []any:
		for i, elem := range v {
			if err := checkValue(fmt.Sprintf("%s[%d]", path, i), elem); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkInt(path string, n int64) error {
	if n > maxExactInt || n < -maxExactInt {
		return fmt.Errorf("%s: %w: %d", path, errInexactInt, n)
	}
	return nil
}

func checkUint(path string, n uint64) error {
	if n > maxExactInt {
		return fmt.Errorf("%s: %w: %d", path, errInexactInt, n)
	}
	return nil
}

func checkFloat(path string, f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("%s: %w: %v", path, errNonFinite, f)
	}
	return nil
}

// Decode reads a payload produced by any supported encoder into into.
func Decode(data []byte, into action.Message) error {
	schema := into.Schema()
	if len(bytes.TrimSpace(data)) == 0 {
		return action.DeserializationError(schema, errEmptyPayload)
	}

	var (
		typeURL string
		st      *structpb.Struct
		err     error
	)
	if looksLikeJSON(data) {
		typeURL, st, err = unpackJSON(data)
	} else {
		typeURL, st, err = unpackProto(data)
	}
	if err != nil {
		return action.DeserializationError(schema, err)
	}

	got, ok := strings.CutPrefix(typeURL, TypeURLPrefix)
	if !ok {
		return action.DeserializationError(schema, fmt.Errorf("%w: %s", errForeignTypeURL, typeURL))
	}
	if got != schema {
		return action.SchemaMismatchError(schema, got)
	}

	if err := into.Load(st.AsMap()); err != nil {
		return action.DeserializationError(schema, err)
	}
	return nil
}

// protoTypeURLTag is the first byte of every binary payload: field 1
// (type_url), length-delimited. It doubles as '\n', so a payload opening with
// it is only treated as JSON when it actually parses as JSON.
const protoTypeURLTag = 0x0a

func looksLikeJSON(data []byte) bool {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	return data[0] != protoTypeURLTag || json.Valid(data)
}

func unpackProto(data []byte) (string, *structpb.Struct, error) {
	var env anypb.Any
	if err := proto.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protobuf unmarshal: %w", err)
	}
	if env.GetTypeUrl() == "" {
		return "", nil, errMissingType
	}
	st := &structpb.Struct{}
	if err := proto.Unmarshal(env.GetValue(), st); err != nil {
		return "", nil, fmt.Errorf("protobuf unmarshal value: %w", err)
	}
	return env.GetTypeUrl(), st, nil
}

func unpackJSON(data []byte) (string, *structpb.Struct, error) {
	outer := &structpb.Struct{}
	if err := protojson.Unmarshal(data, outer); err != nil {
		return "", nil, fmt.Errorf("json unmarshal: %w", err)
	}
	typeURL := outer.GetFields()[jsonTypeKey].GetStringValue()
	if typeURL == "" {
		return "", nil, errMissingType
	}
	value := outer.GetFields()[jsonValueKey].GetStructValue()
	if value == nil {
		return "", nil, errMissingValue
	}
	return typeURL, value, nil
}
