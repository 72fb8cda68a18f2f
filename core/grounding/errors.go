package grounding

import "fmt"

// QueryTooLongError reports that the query alone, plus the fixed prompt
// overhead, exceeds the usable budget before any passage can be added.
// Fatal to that build attempt; never silently truncated.
type QueryTooLongError struct {
	QueryTokens  int
	BaseOverhead int
	Budget       int
}

func (e *QueryTooLongError) Error() string {
	return fmt.Sprintf("query too long: %d query tokens plus %d overhead exceed the %d token budget",
		e.QueryTokens, e.BaseOverhead, e.Budget)
}
