package camera

import (
	"github.com/pkg/errors"

	"github.com/stillcam/stillcam/internal/spa"
)

// Advertiser holds the fixed set of formats the camera offers.
type Advertiser struct {
	candidates []FormatCandidate
	params     []*spa.Object
}

// NewAdvertiser validates candidates and prepares their EnumFormat objects.
// The order of candidates is the advertised order.
func NewAdvertiser(candidates []FormatCandidate) (*Advertiser, error) {
	if len(candidates) == 0 {
		return nil, errors.New("no format candidates")
	}
	a := &Advertiser{}
	seen := make(map[FormatCandidate]bool, len(candidates))
	for _, c := range candidates {
		if err := c.validate(); err != nil {
			return nil, errors.Wrapf(err, "candidate %s", c)
		}
		if seen[c] {
			return nil, errors.Errorf("candidate %s listed twice", c)
		}
		seen[c] = true

		info, err := c.VideoInfo()
		if err != nil {
			return nil, err
		}
		a.candidates = append(a.candidates, c)
		a.params = append(a.params, spa.NewVideoFormat(spa.ParamEnumFormat, info))
	}
	return a, nil
}

// Describe returns every candidate in advertised order.
func (a *Advertiser) Describe() []FormatCandidate {
	return append([]FormatCandidate(nil), a.candidates...)
}

// Enumerate returns the candidate at index. It reports false once index runs
// past the set.
func (a *Advertiser) Enumerate(index int) (FormatCandidate, bool) {
	if index < 0 || index >= len(a.candidates) {
		return FormatCandidate{}, false
	}
	return a.candidates[index], true
}

// EnumFormat returns the EnumFormat object for index.
func (a *Advertiser) EnumFormat(index int) (*spa.Object, bool) {
	if index < 0 || index >= len(a.params) {
		return nil, false
	}
	return a.params[index], true
}

// Params returns every EnumFormat object in advertised order.
func (a *Advertiser) Params() []*spa.Object {
	return append([]*spa.Object(nil), a.params...)
}
