// Package spa encodes and decodes the subset of the Simple Plugin API POD
// format that a raw video node exchanges with the bus: scalar ids and ints,
// rectangles, fractions, choices and objects.
//
// PODs are laid out in native byte order. Every supported target is little
// endian, so the codec writes little endian unconditionally. Each POD starts
// with a 32-bit body size and a 32-bit type and is padded to 8 bytes.
package spa

import "fmt"

// Type is a POD type tag.
type Type uint32

const (
	TypeNone      Type = 1
	TypeBool      Type = 2
	TypeId        Type = 3
	TypeInt       Type = 4
	TypeLong      Type = 5
	TypeFloat     Type = 6
	TypeDouble    Type = 7
	TypeString    Type = 8
	TypeBytes     Type = 9
	TypeRectangle Type = 10
	TypeFraction  Type = 11
	TypeBitmap    Type = 12
	TypeArray     Type = 13
	TypeStruct    Type = 14
	TypeObject    Type = 15
	TypeSequence  Type = 16
	TypePointer   Type = 17
	TypeFd        Type = 18
	TypeChoice    Type = 19
	TypePod       Type = 20
)

// ObjectType tags the schema an object follows.
type ObjectType uint32

const (
	ObjectPropInfo     ObjectType = 0x40001
	ObjectProps        ObjectType = 0x40002
	ObjectFormat       ObjectType = 0x40003
	ObjectParamBuffers ObjectType = 0x40004
	ObjectParamMeta    ObjectType = 0x40005
	ObjectParamIO      ObjectType = 0x40006
	ObjectParamLatency ObjectType = 0x4000b
)

// ParamType identifies which parameter an object carries.
type ParamType uint32

const (
	ParamInvalid        ParamType = 0
	ParamPropInfo       ParamType = 1
	ParamProps          ParamType = 2
	ParamEnumFormat     ParamType = 3
	ParamFormat         ParamType = 4
	ParamBuffers        ParamType = 5
	ParamMeta           ParamType = 6
	ParamIO             ParamType = 7
	ParamEnumProfile    ParamType = 8
	ParamProfile        ParamType = 9
	ParamEnumPortConfig ParamType = 10
	ParamPortConfig     ParamType = 11
	ParamEnumRoute      ParamType = 12
	ParamRoute          ParamType = 13
	ParamControl        ParamType = 14
	ParamLatency        ParamType = 15
	ParamProcessLatency ParamType = 16
	ParamTag            ParamType = 17
)

var paramNames = map[ParamType]string{
	ParamPropInfo:       "PropInfo",
	ParamProps:          "Props",
	ParamEnumFormat:     "EnumFormat",
	ParamFormat:         "Format",
	ParamBuffers:        "Buffers",
	ParamMeta:           "Meta",
	ParamIO:             "IO",
	ParamEnumProfile:    "EnumProfile",
	ParamProfile:        "Profile",
	ParamEnumPortConfig: "EnumPortConfig",
	ParamPortConfig:     "PortConfig",
	ParamEnumRoute:      "EnumRoute",
	ParamRoute:          "Route",
	ParamControl:        "Control",
	ParamLatency:        "Latency",
	ParamProcessLatency: "ProcessLatency",
	ParamTag:            "Tag",
}

func (p ParamType) String() string {
	if name, ok := paramNames[p]; ok {
		return name
	}
	return fmt.Sprintf("Param(%d)", uint32(p))
}

// Value is any decoded POD.
type Value interface {
	Type() Type
}

// Id is an enumeration value.
type Id uint32

func (Id) Type() Type { return TypeId }

// Int is a signed 32-bit integer.
type Int int32

func (Int) Type() Type { return TypeInt }

// Rectangle is a width/height pair.
type Rectangle struct {
	Width  uint32
	Height uint32
}

func (Rectangle) Type() Type { return TypeRectangle }

func (r Rectangle) String() string { return fmt.Sprintf("%dx%d", r.Width, r.Height) }

// Fraction is a rational number, used for frame rates.
type Fraction struct {
	Num   uint32
	Denom uint32
}

func (Fraction) Type() Type { return TypeFraction }

func (f Fraction) String() string { return fmt.Sprintf("%d/%d", f.Num, f.Denom) }

// Unknown keeps a POD of a type this package does not model so that objects
// carrying it still round-trip.
type Unknown struct {
	Tag  Type
	Body []byte
}

func (u Unknown) Type() Type { return u.Tag }

// ChoiceType selects how the values of a Choice are interpreted.
type ChoiceType uint32

const (
	ChoiceNone  ChoiceType = 0 // single value
	ChoiceRange ChoiceType = 1 // default, min, max
	ChoiceStep  ChoiceType = 2 // default, min, max, step
	ChoiceEnum  ChoiceType = 3 // default, alternatives...
	ChoiceFlags ChoiceType = 4 // default, flags...
)

// Choice is a set of acceptable values of one scalar type. The first value
// is always the default.
type Choice struct {
	Kind   ChoiceType
	Flags  uint32
	Values []Value
}

func (*Choice) Type() Type { return TypeChoice }

// Default returns the preferred value of the choice, or nil when it is empty.
func (c *Choice) Default() Value {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// NewRange builds a range choice.
func NewRange(def, min, max Value) *Choice {
	return &Choice{Kind: ChoiceRange, Values: []Value{def, min, max}}
}

// NewEnum builds an enum choice. The default is repeated as the first
// alternative.
func NewEnum(def Value, alternatives ...Value) *Choice {
	values := append([]Value{def, def}, alternatives...)
	return &Choice{Kind: ChoiceEnum, Values: values}
}

// Prop is one key of an object.
type Prop struct {
	Key   uint32
	Flags uint32
	Value Value
}

// Object is a typed collection of properties, used for every parameter.
type Object struct {
	ObjectType ObjectType
	ID         ParamType
	Props      []Prop
}

func (*Object) Type() Type { return TypeObject }

// NewObject starts an empty object.
func NewObject(objectType ObjectType, id ParamType) *Object {
	return &Object{ObjectType: objectType, ID: id}
}

// Set appends a property and returns the object for chaining.
func (o *Object) Set(key uint32, v Value) *Object {
	o.Props = append(o.Props, Prop{Key: key, Value: v})
	return o
}

// Prop looks up the first property with the given key.
func (o *Object) Prop(key uint32) (Value, bool) {
	for _, p := range o.Props {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// Fixed unwraps a choice to its default; any other value is returned as is.
func Fixed(v Value) Value {
	if c, ok := v.(*Choice); ok {
		return c.Default()
	}
	return v
}
