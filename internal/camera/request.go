package camera

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/core"
	"github.com/stillcam/stillcam/internal/spa"
)

// FormatRequest is the set of constraints a peer places on the format. A nil
// field leaves that dimension unconstrained.
type FormatRequest struct {
	Layout func(core.PixelLayout) bool
	Size   func(width, height int) bool
	Rate   func(Rate) bool

	invalid error
}

// Matches reports whether c satisfies every specified constraint.
func (r FormatRequest) Matches(c FormatCandidate) bool {
	if r.invalid != nil {
		return false
	}
	if r.Layout != nil && !r.Layout(c.Layout) {
		return false
	}
	if r.Size != nil && !r.Size(c.Width, c.Height) {
		return false
	}
	if r.Rate != nil && !r.Rate(c.Rate) {
		return false
	}
	return true
}

// ExactRequest asks for c and nothing else.
func ExactRequest(c FormatCandidate) FormatRequest {
	return FormatRequest{
		Layout: func(l core.PixelLayout) bool { return l == c.Layout },
		Size:   func(w, h int) bool { return w == c.Width && h == c.Height },
		Rate:   func(r Rate) bool { return r == c.Rate },
	}
}

// RequestFromParam translates an SPA format object, possibly holding
// choices, into a FormatRequest. A request for a non video or non raw media
// type, or one whose values cannot be interpreted, matches nothing and
// carries the reason.
func RequestFromParam(o *spa.Object) FormatRequest {
	req, err := requestFromParam(o)
	if err != nil {
		return FormatRequest{invalid: err}
	}
	return req
}

func requestFromParam(o *spa.Object) (FormatRequest, error) {
	var req FormatRequest
	if o == nil {
		return req, errors.New("empty format")
	}
	if o.ObjectType != spa.ObjectFormat {
		return req, errors.Errorf("object type 0x%x is not a format", uint32(o.ObjectType))
	}

	for _, p := range o.Props {
		switch p.Key {
		case spa.FormatMediaType:
			ok, err := constrain(p.Value, idWithin)
			if err != nil {
				return req, errors.Wrap(err, "media type")
			}
			if !ok(spa.MediaTypeVideo) {
				return req, errors.New("media type is not video")
			}
		case spa.FormatMediaSubtype:
			ok, err := constrain(p.Value, idWithin)
			if err != nil {
				return req, errors.Wrap(err, "media subtype")
			}
			if !ok(spa.MediaSubtypeRaw) {
				return req, errors.New("media subtype is not raw")
			}
		case spa.FormatVideoFormat:
			ok, err := constrain(p.Value, idWithin)
			if err != nil {
				return req, errors.Wrap(err, "video format")
			}
			req.Layout = func(l core.PixelLayout) bool {
				id, known := spaFormats[l]
				return known && ok(id)
			}
		case spa.FormatVideoSize:
			ok, err := constrain(p.Value, rectangleWithin)
			if err != nil {
				return req, errors.Wrap(err, "size")
			}
			req.Size = func(w, h int) bool {
				return ok(spa.Rectangle{Width: uint32(w), Height: uint32(h)})
			}
		case spa.FormatVideoFramerate:
			ok, err := constrain(p.Value, fractionWithin)
			if err != nil {
				return req, errors.Wrap(err, "framerate")
			}
			req.Rate = func(r Rate) bool { return ok(r.fraction()) }
		}
	}
	return req, nil
}

type scalar interface {
	spa.Value
	comparable
}

// constrain builds a predicate for one property. within reports whether x
// lies inside [lo, hi].
func constrain[T scalar](v spa.Value, within func(x, lo, hi T) bool) (func(T) bool, error) {
	c, isChoice := v.(*spa.Choice)
	if !isChoice {
		want, ok := v.(T)
		if !ok {
			return nil, errors.Errorf("unexpected value type %T", v)
		}
		return func(x T) bool { return x == want }, nil
	}

	values := make([]T, 0, len(c.Values))
	for _, cv := range c.Values {
		t, ok := cv.(T)
		if !ok {
			return nil, errors.Errorf("unexpected choice value type %T", cv)
		}
		values = append(values, t)
	}
	if len(values) == 0 {
		return nil, errors.New("empty choice")
	}

	switch c.Kind {
	case spa.ChoiceNone:
		want := values[0]
		return func(x T) bool { return x == want }, nil
	case spa.ChoiceRange, spa.ChoiceStep:
		if len(values) < 3 {
			return nil, errors.Errorf("range with %d values", len(values))
		}
		lo, hi := values[1], values[2]
		return func(x T) bool { return within(x, lo, hi) }, nil
	case spa.ChoiceEnum:
		alternatives := values[1:]
		if len(alternatives) == 0 {
			alternatives = values
		}
		return func(x T) bool {
			for _, a := range alternatives {
				if a == x {
					return true
				}
			}
			return false
		}, nil
	case spa.ChoiceFlags:
		return func(T) bool { return true }, nil
	default:
		return nil, errors.Errorf("unknown choice kind %d", c.Kind)
	}
}

func idWithin(x, lo, hi spa.Id) bool {
	return x >= lo && x <= hi
}

func rectangleWithin(x, lo, hi spa.Rectangle) bool {
	return x.Width >= lo.Width && x.Width <= hi.Width &&
		x.Height >= lo.Height && x.Height <= hi.Height
}

func fractionWithin(x, lo, hi spa.Fraction) bool {
	return compareFraction(x, lo) >= 0 && compareFraction(x, hi) <= 0
}

func compareFraction(a, b spa.Fraction) int {
	l := uint64(a.Num) * uint64(b.Denom)
	r := uint64(b.Num) * uint64(a.Denom)
	switch {
	case l < r:
		return -1
	case l > r:
		return 1
	}
	return 0
}
