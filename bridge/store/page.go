package store

const (
	DefaultLimit = 10
	MaxLimit     = 30
)

// Page selects a window of a range query.
type Page struct {
	StartAfter string
	Limit      uint32
	Descending bool
}

// NewPage builds a page from query parameters. Order 2 means descending,
// anything else ascending.
func NewPage(startAfter *string, limit *uint32, order *uint8) *Page {
	p := &Page{}
	if startAfter != nil {
		p.StartAfter = *startAfter
	}
	if limit != nil {
		p.Limit = *limit
	}
	if order != nil && *order == 2 {
		p.Descending = true
	}
	return p
}

func (p *Page) limit() int {
	switch {
	case p.Limit == 0:
		return DefaultLimit
	case p.Limit > MaxLimit:
		return MaxLimit
	default:
		return int(p.Limit)
	}
}

func applyPage[T any](p *Page, in []Entry[T]) []Entry[T] {
	if p.Descending {
		for i, j := 0, len(in)-1; i < j; i, j = i+1, j-1 {
			in[i], in[j] = in[j], in[i]
		}
	}
	if n := p.limit(); len(in) > n {
		in = in[:n]
	}
	return in
}
