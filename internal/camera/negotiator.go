package camera

import "github.com/pkg/errors"

// Negotiator picks the advertised candidate that answers a format request.
type Negotiator struct {
	advertiser *Advertiser
	preferred  FormatCandidate
}

// NewNegotiator prefers preferred whenever a request admits it.
func NewNegotiator(advertiser *Advertiser, preferred FormatCandidate) *Negotiator {
	return &Negotiator{advertiser: advertiser, preferred: preferred}
}

// Select returns the preferred candidate if it satisfies req, otherwise the
// first satisfying candidate in advertised order. The result depends only on
// req and the advertised set.
func (n *Negotiator) Select(req FormatRequest) (FormatCandidate, error) {
	if req.invalid != nil {
		return FormatCandidate{}, errors.Wrap(ErrIncompatible, req.invalid.Error())
	}

	var first *FormatCandidate
	for _, c := range n.advertiser.Describe() {
		if !req.Matches(c) {
			continue
		}
		if c == n.preferred {
			return c, nil
		}
		if first == nil {
			first = &c
		}
	}
	if first == nil {
		return FormatCandidate{}, ErrIncompatible
	}
	return *first, nil
}
