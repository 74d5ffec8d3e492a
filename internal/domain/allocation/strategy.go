package allocation

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Strategy is an ordering rule for auto-proposing a payment split
type Strategy string

const (
	StrategyOpeningFirst Strategy = "opening_first" // Opening balance, then oldest dated obligations
	StrategyOldest       Strategy = "oldest"        // Oldest dated obligations, opening balance last
	StrategyLargest      Strategy = "largest"       // Largest remaining first
	StrategyManual       Strategy = "manual"        // No proposal; caller supplies lines
)

// IsValid checks if the strategy is known
func (s Strategy) IsValid() bool {
	_, ok := orderings[s]
	return ok || s == StrategyManual
}

// String returns the string representation of Strategy
func (s Strategy) String() string {
	return string(s)
}

// AllStrategies returns every known strategy
func AllStrategies() []Strategy {
	return []Strategy{StrategyOpeningFirst, StrategyOldest, StrategyLargest, StrategyManual}
}

// ParseStrategy parses a strategy name, falling back to def when s is empty
func ParseStrategy(s string, def Strategy) (Strategy, error) {
	if s == "" {
		s = string(def)
	}
	st := Strategy(s)
	if !st.IsValid() {
		e := NewError(KindInvalidStrategy, fmt.Sprintf("unknown allocation strategy %q", s))
		return "", e
	}
	return st, nil
}

type lessFunc func(a, b Obligation) bool

var orderings = map[Strategy]lessFunc{
	StrategyOpeningFirst: func(a, b Obligation) bool {
		if ao, bo := isOpening(a), isOpening(b); ao != bo {
			return ao
		}
		return olderFirst(a, b)
	},
	StrategyOldest: func(a, b Obligation) bool {
		if ao, bo := isOpening(a), isOpening(b); ao != bo {
			return bo
		}
		return olderFirst(a, b)
	},
	StrategyLargest: func(a, b Obligation) bool {
		if c := a.Remaining().Cmp(b.Remaining()); c != 0 {
			return c > 0
		}
		return byID(a, b)
	},
}

// Propose orders obligations by strategy and greedily fills each with
// min(left, remaining) until available is exhausted. The result always
// passes Validate against the same inputs. StrategyManual yields nothing.
func Propose(available decimal.Decimal, obligations []Obligation, strategy Strategy) ([]Line, error) {
	if strategy == StrategyManual {
		return []Line{}, nil
	}
	less, ok := orderings[strategy]
	if !ok {
		return nil, NewError(KindInvalidStrategy, fmt.Sprintf("unknown allocation strategy %q", strategy))
	}

	ordered := make([]Obligation, 0, len(obligations))
	for _, o := range obligations {
		if o.Remaining().IsPositive() {
			ordered = append(ordered, o)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return less(ordered[i], ordered[j])
	})

	lines := make([]Line, 0, len(ordered))
	left := available
	for _, o := range ordered {
		if !left.IsPositive() {
			break
		}
		amount := decimal.Min(left, o.Remaining())
		lines = append(lines, Line{Ref: o.Ref(), Amount: amount})
		left = left.Sub(amount)
	}
	return lines, nil
}

func isOpening(o Obligation) bool {
	return o.Ref().Type == ObligationTypeOpeningBalance
}

func olderFirst(a, b Obligation) bool {
	da, db := a.Date(), b.Date()
	if da.Before(db) {
		return true
	}
	if db.Before(da) {
		return false
	}
	return byID(a, b)
}

// byID breaks ties by obligation id, then type.
func byID(a, b Obligation) bool {
	ra, rb := a.Ref(), b.Ref()
	if c := bytes.Compare(ra.ID[:], rb.ID[:]); c != 0 {
		return c < 0
	}
	return ra.Type < rb.Type
}
