package spa

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

const headerSize = 8

// ErrMalformed is returned when a byte slice is not a well formed POD.
var ErrMalformed = errors.New("malformed pod")

var order = binary.LittleEndian

// Marshal encodes v as a POD.
func Marshal(v Value) ([]byte, error) {
	var e encoder
	if err := e.pod(v); err != nil {
		return nil, err
	}
	return e.buf, nil
}

// Unmarshal decodes a single POD from b. Trailing bytes after the padded POD
// are ignored.
func Unmarshal(b []byte) (Value, error) {
	v, _, err := decodePod(b)
	return v, err
}

// UnmarshalObject decodes b and requires the result to be an object.
func UnmarshalObject(b []byte) (*Object, error) {
	v, err := Unmarshal(b)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(*Object)
	if !ok {
		return nil, errors.Wrapf(ErrMalformed, "expected object, got type %d", v.Type())
	}
	return obj, nil
}

type encoder struct {
	buf []byte
}

func (e *encoder) u32(v uint32) {
	e.buf = order.AppendUint32(e.buf, v)
}

func (e *encoder) pad() {
	for len(e.buf)%8 != 0 {
		e.buf = append(e.buf, 0)
	}
}

// patch writes the body size of the POD whose header starts at start.
func (e *encoder) patch(start int) {
	order.PutUint32(e.buf[start:], uint32(len(e.buf)-start-headerSize))
}

func (e *encoder) pod(v Value) error {
	switch v := v.(type) {
	case *Choice:
		return e.choice(v)
	case *Object:
		return e.object(v)
	}
	body, err := scalarBody(v)
	if err != nil {
		return err
	}
	e.u32(uint32(len(body)))
	e.u32(uint32(v.Type()))
	e.buf = append(e.buf, body...)
	e.pad()
	return nil
}

func (e *encoder) choice(c *Choice) error {
	if len(c.Values) == 0 {
		return errors.New("choice without values")
	}
	childType := c.Values[0].Type()
	first, err := scalarBody(c.Values[0])
	if err != nil {
		return errors.Wrap(err, "choice value")
	}

	start := len(e.buf)
	e.u32(0)
	e.u32(uint32(TypeChoice))
	e.u32(uint32(c.Kind))
	e.u32(c.Flags)
	e.u32(uint32(len(first)))
	e.u32(uint32(childType))
	for i, v := range c.Values {
		if v.Type() != childType {
			return errors.Errorf("choice value %d has type %d, want %d", i, v.Type(), childType)
		}
		body, err := scalarBody(v)
		if err != nil {
			return errors.Wrapf(err, "choice value %d", i)
		}
		e.buf = append(e.buf, body...)
	}
	e.patch(start)
	e.pad()
	return nil
}

func (e *encoder) object(o *Object) error {
	start := len(e.buf)
	e.u32(0)
	e.u32(uint32(TypeObject))
	e.u32(uint32(o.ObjectType))
	e.u32(uint32(o.ID))
	for _, p := range o.Props {
		if p.Value == nil {
			return errors.Errorf("property 0x%x has no value", p.Key)
		}
		e.u32(p.Key)
		e.u32(p.Flags)
		if err := e.pod(p.Value); err != nil {
			return errors.Wrapf(err, "property 0x%x", p.Key)
		}
	}
	e.patch(start)
	return nil
}

// scalarBody returns the unpadded body of a fixed-size value.
func scalarBody(v Value) ([]byte, error) {
	switch v := v.(type) {
	case Id:
		return order.AppendUint32(nil, uint32(v)), nil
	case Int:
		return order.AppendUint32(nil, uint32(v)), nil
	case Rectangle:
		b := order.AppendUint32(nil, v.Width)
		return order.AppendUint32(b, v.Height), nil
	case Fraction:
		b := order.AppendUint32(nil, v.Num)
		return order.AppendUint32(b, v.Denom), nil
	case Unknown:
		return v.Body, nil
	case nil:
		return nil, errors.New("nil value")
	default:
		return nil, errors.Errorf("unsupported value %T", v)
	}
}

func decodePod(b []byte) (Value, int, error) {
	if len(b) < headerSize {
		return nil, 0, errors.Wrapf(ErrMalformed, "need %d header bytes, have %d", headerSize, len(b))
	}
	size := int(order.Uint32(b[0:]))
	typ := Type(order.Uint32(b[4:]))
	if size > len(b)-headerSize {
		return nil, 0, errors.Wrapf(ErrMalformed, "body of %d bytes exceeds buffer of %d", size, len(b)-headerSize)
	}
	v, err := decodeBody(typ, b[headerSize:headerSize+size])
	if err != nil {
		return nil, 0, err
	}
	n := align8(headerSize + size)
	if n > len(b) {
		n = len(b)
	}
	return v, n, nil
}

func decodeBody(typ Type, body []byte) (Value, error) {
	switch typ {
	case TypeId, TypeInt:
		if len(body) < 4 {
			return nil, errors.Wrapf(ErrMalformed, "type %d body of %d bytes", typ, len(body))
		}
		if typ == TypeId {
			return Id(order.Uint32(body)), nil
		}
		return Int(int32(order.Uint32(body))), nil
	case TypeRectangle:
		if len(body) < 8 {
			return nil, errors.Wrapf(ErrMalformed, "rectangle body of %d bytes", len(body))
		}
		return Rectangle{Width: order.Uint32(body), Height: order.Uint32(body[4:])}, nil
	case TypeFraction:
		if len(body) < 8 {
			return nil, errors.Wrapf(ErrMalformed, "fraction body of %d bytes", len(body))
		}
		return Fraction{Num: order.Uint32(body), Denom: order.Uint32(body[4:])}, nil
	case TypeChoice:
		return decodeChoice(body)
	case TypeObject:
		return decodeObject(body)
	default:
		return Unknown{Tag: typ, Body: append([]byte(nil), body...)}, nil
	}
}

func decodeChoice(body []byte) (Value, error) {
	if len(body) < 16 {
		return nil, errors.Wrapf(ErrMalformed, "choice body of %d bytes", len(body))
	}
	c := &Choice{
		Kind:  ChoiceType(order.Uint32(body[0:])),
		Flags: order.Uint32(body[4:]),
	}
	childSize := int(order.Uint32(body[8:]))
	childType := Type(order.Uint32(body[12:]))
	if childType == TypeChoice || childType == TypeObject {
		return nil, errors.Wrapf(ErrMalformed, "choice of type %d", childType)
	}
	values := body[16:]
	if childSize == 0 || len(values)%childSize != 0 {
		return nil, errors.Wrapf(ErrMalformed, "choice values of %d bytes with child size %d", len(values), childSize)
	}
	for off := 0; off < len(values); off += childSize {
		v, err := decodeBody(childType, values[off:off+childSize])
		if err != nil {
			return nil, err
		}
		c.Values = append(c.Values, v)
	}
	return c, nil
}

func decodeObject(body []byte) (Value, error) {
	if len(body) < 8 {
		return nil, errors.Wrapf(ErrMalformed, "object body of %d bytes", len(body))
	}
	o := &Object{
		ObjectType: ObjectType(order.Uint32(body[0:])),
		ID:         ParamType(order.Uint32(body[4:])),
	}
	rest := body[8:]
	for len(rest) > 0 {
		if len(rest) < 8 {
			return nil, errors.Wrapf(ErrMalformed, "truncated property header")
		}
		key := order.Uint32(rest[0:])
		flags := order.Uint32(rest[4:])
		v, n, err := decodePod(rest[8:])
		if err != nil {
			return nil, errors.Wrapf(err, "property 0x%x", key)
		}
		o.Props = append(o.Props, Prop{Key: key, Flags: flags, Value: v})
		rest = rest[8+n:]
	}
	return o, nil
}

func align8(n int) int {
	return (n + 7) &^ 7
}
