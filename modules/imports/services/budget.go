package services

// Budget is an invocation-scoped allowance of external directory calls,
// checked before each call rather than counted implicitly.
type Budget struct {
	remaining int
}

func NewBudget(calls int) *Budget {
	return &Budget{remaining: calls}
}

// Take consumes one call if any remain.
func (b *Budget) Take() bool {
	if b.remaining <= 0 {
		return false
	}
	b.remaining--
	return true
}

func (b *Budget) Remaining() int {
	return b.remaining
}

func (b *Budget) Exhausted() bool {
	return b.remaining <= 0
}
