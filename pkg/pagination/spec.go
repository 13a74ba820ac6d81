package pagination

// Strategy identifies a pagination algorithm.
type Strategy string

const (
	StrategyNone     Strategy = "none"
	StrategyPage     Strategy = "page"
	StrategyOffset   Strategy = "offset"
	StrategyNextLink Strategy = "next_link"
	StrategyCursor   Strategy = "cursor"
)

// Spec is the tagged pagination variant. The concrete types below are the
// only implementations.
type Spec interface {
	Strategy() Strategy
}

// None issues exactly one request.
type None struct{}

// PageNumber increments PageParam from StartPage until the data at DataPath is empty.
type PageNumber struct {
	StartPage int
	PageParam string
	DataPath  string
}

// Offset advances OffsetParam by Limit until a short page is returned.
type Offset struct {
	StartOffset int
	Limit       int
	OffsetParam string
	LimitParam  string
	DataPath    string
}

// NextLink follows the next URL found in the response body.
type NextLink struct {
	NextKey string
}

// Cursor passes the cursor returned under NextCursorKey back as CursorParam.
type Cursor struct {
	StartCursor   string
	CursorParam   string
	NextCursorKey string
}

// Unknown carries an unrecognized type tag. It is fetched like None.
type Unknown struct {
	Type string
}

func (None) Strategy() Strategy       { return StrategyNone }
func (PageNumber) Strategy() Strategy { return StrategyPage }
func (Offset) Strategy() Strategy     { return StrategyOffset }
func (NextLink) Strategy() Strategy   { return StrategyNextLink }
func (Cursor) Strategy() Strategy     { return StrategyCursor }
func (u Unknown) Strategy() Strategy {
	return Strategy(u.Type)
}
