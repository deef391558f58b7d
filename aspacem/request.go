package aspacem

type ReqKind int

const (
	REQ_FIXED ReqKind = iota
	REQ_HINT
	REQ_ANY
)

func (k ReqKind) String() string {
	switch k {
	case REQ_FIXED:
		return "MFixed"
	case REQ_HINT:
		return "MHint"
	}
	return "MAny"
}

// MapRequest asks the advisory engine where a mapping of Len bytes may go.
// Start is ignored for REQ_ANY.
type MapRequest struct {
	Kind  ReqKind
	Start uint64
	Len   uint64
}
