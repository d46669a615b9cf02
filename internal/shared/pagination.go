package shared

// Page describes offset pagination parameters.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page into sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
