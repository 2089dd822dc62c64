package spa

import (
	"fmt"

	"github.com/pkg/errors"
)

// Format object keys.
const (
	FormatMediaType         uint32 = 1
	FormatMediaSubtype      uint32 = 2
	FormatVideoFormat       uint32 = 0x20001
	FormatVideoModifier     uint32 = 0x20002
	FormatVideoSize         uint32 = 0x20003
	FormatVideoFramerate    uint32 = 0x20004
	FormatVideoMaxFramerate uint32 = 0x20005
)

// Media types and subtypes.
const (
	MediaTypeAudio  Id = 1
	MediaTypeVideo  Id = 2
	MediaTypeImage  Id = 3
	MediaSubtypeRaw Id = 1
)

// Raw video pixel formats.
const (
	VideoFormatUnknown Id = 0
	VideoFormatRGBx    Id = 7
	VideoFormatBGRx    Id = 8
	VideoFormatRGBA    Id = 11
	VideoFormatBGRA    Id = 12
)

// VideoInfo is a fixed raw video format.
type VideoInfo struct {
	Format    Id
	Size      Rectangle
	Framerate Fraction
}

func (v VideoInfo) String() string {
	return fmt.Sprintf("format=%d size=%s framerate=%s", v.Format, v.Size, v.Framerate)
}

// NewVideoFormat builds a raw video format object for param, usually
// ParamEnumFormat or ParamFormat.
func NewVideoFormat(param ParamType, info VideoInfo) *Object {
	return NewObject(ObjectFormat, param).
		Set(FormatMediaType, MediaTypeVideo).
		Set(FormatMediaSubtype, MediaSubtypeRaw).
		Set(FormatVideoFormat, info.Format).
		Set(FormatVideoSize, info.Size).
		Set(FormatVideoFramerate, info.Framerate)
}

// ParseVideoFormat reads a raw video format object. Choices are fixated to
// their defaults.
func ParseVideoFormat(o *Object) (VideoInfo, error) {
	var info VideoInfo
	if o.ObjectType != ObjectFormat {
		return info, errors.Errorf("object type 0x%x is not a format", uint32(o.ObjectType))
	}
	if v, ok := o.Prop(FormatMediaType); ok {
		if id, _ := Fixed(v).(Id); id != MediaTypeVideo {
			return info, errors.Errorf("media type %d is not video", id)
		}
	}
	if v, ok := o.Prop(FormatMediaSubtype); ok {
		if id, _ := Fixed(v).(Id); id != MediaSubtypeRaw {
			return info, errors.Errorf("media subtype %d is not raw", id)
		}
	}

	v, ok := o.Prop(FormatVideoFormat)
	if !ok {
		return info, errors.New("format has no video format")
	}
	if info.Format, ok = Fixed(v).(Id); !ok {
		return info, errors.Errorf("video format has type %T", Fixed(v))
	}
	v, ok = o.Prop(FormatVideoSize)
	if !ok {
		return info, errors.New("format has no size")
	}
	if info.Size, ok = Fixed(v).(Rectangle); !ok {
		return info, errors.Errorf("size has type %T", Fixed(v))
	}
	v, ok = o.Prop(FormatVideoFramerate)
	if !ok {
		return info, errors.New("format has no framerate")
	}
	if info.Framerate, ok = Fixed(v).(Fraction); !ok {
		return info, errors.Errorf("framerate has type %T", Fixed(v))
	}
	return info, nil
}
