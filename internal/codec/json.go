package codec

import (
	"github.com/oriys/pulsar/internal/action"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// JSON encodes messages as {"@type": ..., "value": {...}}.
type JSON struct{}

func (JSON) Name() string { return NameJSON }

// Encode implements Codec.
func (JSON) Encode(m action.Message) ([]byte, error) {
	st, err := toStruct(m)
	if err != nil {
		return nil, err
	}
	outer := &structpb.Struct{Fields: map[string]*structpb.Value{
		jsonTypeKey:  structpb.NewStringValue(TypeURLPrefix + m.Schema()),
		jsonValueKey: structpb.NewStructValue(st),
	}}
	data, err := protojson.Marshal(outer)
	if err != nil {
		return nil, action.SerializationError(m.Schema(), err)
	}
	return data, nil
}

// Decode implements Codec.
func (JSON) Decode(data []byte, into action.Message) error {
	return Decode(data, into)
}
