// Package drill builds randomized practice problems.
package drill

import (
	"math/rand"
	"time"

	"github.com/mtt87/math-facts/internal/model"
)

// Problem is one question to answer. Operands has one entry for typing
// drills and two for math drills.
type Problem struct {
	Operation string
	Operands  []int
	Answer    int
}

// Key returns the fact identity for the problem.
func (p Problem) Key() model.FactKey {
	if len(p.Operands) == 1 {
		return model.FactKey{First: p.Operands[0], Second: -1}
	}
	return model.FactKey{First: p.Operands[0], Second: p.Operands[1]}
}

// Generator produces randomized problems.
type Generator struct {
	rnd *rand.Rand
}

// New returns a Generator seeded with the current time.
func New() *Generator {
	return &Generator{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// Generate selects problems uniformly with operands in [1, maxOperand].
func (g *Generator) Generate(operation string, count, maxOperand int) []Problem {
	result := make([]Problem, 0, count)
	for i := 0; i < count; i++ {
		if model.Arity(operation) == 1 {
			n := g.rnd.Intn(maxOperand) + 1
			result = append(result, makeProblem(operation, n, 0))
			continue
		}
		a := g.rnd.Intn(maxOperand) + 1
		b := g.rnd.Intn(maxOperand) + 1
		result = append(result, makeProblem(operation, a, b))
	}
	return result
}

// GenerateWeighted selects problems with a bias toward weak facts. Each
// candidate fact gets weight 1 + factor when present in weakSet.
func (g *Generator) GenerateWeighted(operation string, count, maxOperand int, weakSet map[model.FactKey]struct{}, factor float64) []Problem {
	candidates := g.candidates(operation, maxOperand)
	weights := make([]float64, len(candidates))
	total := 0.0
	for i, p := range candidates {
		w := 1.0
		if _, ok := weakSet[p.Key()]; ok {
			w += factor
		}
		weights[i] = w
		total += w
	}

	result := make([]Problem, 0, count)
	for i := 0; i < count; i++ {
		r := g.rnd.Float64() * total
		acc := 0.0
		idx := 0
		for j, w := range weights {
			acc += w
			if r <= acc {
				idx = j
				break
			}
		}
		result = append(result, candidates[idx])
	}
	return result
}

func (g *Generator) candidates(operation string, maxOperand int) []Problem {
	if model.Arity(operation) == 1 {
		result := make([]Problem, 0, maxOperand)
		for n := 1; n <= maxOperand; n++ {
			result = append(result, makeProblem(operation, n, 0))
		}
		return result
	}
	result := make([]Problem, 0, maxOperand*maxOperand)
	for a := 1; a <= maxOperand; a++ {
		for b := 1; b <= maxOperand; b++ {
			result = append(result, makeProblem(operation, a, b))
		}
	}
	return result
}

func makeProblem(operation string, a, b int) Problem {
	switch operation {
	case model.OpAddition:
		return Problem{Operation: operation, Operands: []int{a, b}, Answer: a + b}
	case model.OpTyping:
		return Problem{Operation: operation, Operands: []int{a}, Answer: a}
	default:
		return Problem{Operation: operation, Operands: []int{a, b}, Answer: a * b}
	}
}
