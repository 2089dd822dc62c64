package protocol

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/spa"
)

// EncodeParam serialises an SPA object for a Message.
func EncodeParam(obj *spa.Object) ([]byte, error) {
	if obj == nil {
		return nil, nil
	}
	b, err := spa.Marshal(obj)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s param", obj.ID)
	}
	return b, nil
}

// DecodeParam parses the SPA object carried in a Message. An empty slice
// decodes to nil.
func DecodeParam(b []byte) (*spa.Object, error) {
	if len(b) == 0 {
		return nil, nil
	}
	obj, err := spa.UnmarshalObject(b)
	if err != nil {
		return nil, errors.Wrap(err, "decode param")
	}
	return obj, nil
}

// ErrorMessage builds an error envelope answering seq.
func ErrorMessage(seq uint32, code ErrorCode, message string) Message {
	return Message{
		Type:  TypeError,
		Seq:   seq,
		Error: &Error{Code: code, Message: message},
	}
}

// StateMessage builds a state change envelope.
func StateMessage(state State, reason string) Message {
	return Message{Type: TypeState, State: state, Reason: reason}
}
