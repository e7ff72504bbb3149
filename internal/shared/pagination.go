package shared

const (
	defaultLimit = 100
	maxLimit     = 500
)

// Window bounds a listing with skip/limit semantics.
type Window struct {
	Skip  int
	Limit int
}

// NewWindow normalises skip and limit values.
func NewWindow(skip, limit int) Window {
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Window{Skip: skip, Limit: limit}
}
