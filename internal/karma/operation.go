package karma

import "fmt"

// Operation names used in reply templates.
const (
	NameIncrement     = "increment"
	NameDecrement     = "decrement"
	NameQuery         = "query"
	NameRandom        = "random"
	NameExtremeRandom = "extreme-random"
)

// Range is an inclusive bounds pair for a random delta.
type Range struct {
	Min int
	Max int
}

func (r Range) draw(rng Rand) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rng.IntN(r.Max-r.Min+1)
}

// Operation is a resolved operation symbol.
type Operation struct {
	Op    Op
	Name  string
	Apply func(entity string, current int) int
}

// Mutating reports whether the operation changes a score.
func (o Operation) Mutating() bool { return o.Op.Mutating() }

// Resolver maps operation symbols to their semantics. The random and
// extreme-random operations share one implementation with different ranges.
type Resolver struct {
	rng     Rand
	random  Range
	extreme Range
}

func NewResolver(rng Rand, random, extreme Range) *Resolver {
	if rng == nil {
		rng = NewRand()
	}
	return &Resolver{rng: rng, random: random, extreme: extreme}
}

func (r *Resolver) Resolve(op Op) (Operation, error) {
	switch op {
	case OpPlus:
		return Operation{Op: op, Name: NameIncrement, Apply: func(_ string, cur int) int { return cur + 1 }}, nil
	case OpMinus:
		return Operation{Op: op, Name: NameDecrement, Apply: func(_ string, cur int) int { return cur - 1 }}, nil
	case OpEqual:
		return Operation{Op: op, Name: NameQuery, Apply: func(_ string, cur int) int { return cur }}, nil
	case OpRandom:
		return r.randomDelta(op, NameRandom, r.random), nil
	case OpExtreme:
		return r.randomDelta(op, NameExtremeRandom, r.extreme), nil
	}
	return Operation{}, fmt.Errorf("%w: %q", ErrUnknownOperation, op.String())
}

func (r *Resolver) randomDelta(op Op, name string, bounds Range) Operation {
	return Operation{
		Op:   op,
		Name: name,
		Apply: func(_ string, cur int) int {
			return cur + bounds.draw(r.rng)
		},
	}
}
