package codec

import (
	"github.com/oriys/pulsar/internal/action"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"
)

var deterministic = proto.MarshalOptions{Deterministic: true}

// Proto encodes messages as a protobuf Any whose value is a Struct.
type Proto struct{}

func (Proto) Name() string { return NameProto }

// Encode implements Codec.
func (Proto) Encode(m action.Message) ([]byte, error) {
	st, err := toStruct(m)
	if err != nil {
		return nil, err
	}
	value, err := deterministic.Marshal(st)
	if err != nil {
		return nil, action.SerializationError(m.Schema(), err)
	}
	data, err := deterministic.Marshal(&anypb.Any{
		TypeUrl: TypeURLPrefix + m.Schema(),
		Value:   value,
	})
	if err != nil {
		return nil, action.SerializationError(m.Schema(), err)
	}
	return data, nil
}

// Decode implements Codec.
func (Proto) Decode(data []byte, into action.Message) error {
	return Decode(data, into)
}
