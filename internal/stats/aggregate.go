// Package stats contains fact-data aggregation and reporting.
package stats

import (
	"sort"
	"strconv"

	"github.com/mtt87/math-facts/internal/model"
)

// FactAggregate summarizes recorded attempts for one fact.
type FactAggregate struct {
	Key          model.FactKey
	Attempts     int
	Correct      int
	ElapsedSumMs int64
}

// Accuracy returns the share of correct attempts, or 1.0 with no attempts.
func (a FactAggregate) Accuracy() float64 {
	if a.Attempts == 0 {
		return 1.0
	}
	return float64(a.Correct) / float64(a.Attempts)
}

// AvgElapsedMs returns the mean time to answer, or 0 with no attempts.
func (a FactAggregate) AvgElapsedMs() float64 {
	if a.Attempts == 0 {
		return 0
	}
	return float64(a.ElapsedSumMs) / float64(a.Attempts)
}

// Aggregate folds an operation's attempt log into per-fact aggregates,
// sorted by operands.
func Aggregate(facts *model.OperationFacts) []FactAggregate {
	if facts == nil {
		return nil
	}
	var result []FactAggregate
	for first, row := range facts.Pairs {
		for second, attempts := range row {
			agg := FactAggregate{Key: model.FactKey{First: first, Second: second}}
			for _, a := range attempts {
				agg.Attempts++
				if a.Correct {
					agg.Correct++
				}
				agg.ElapsedSumMs += a.ElapsedMs
			}
			result = append(result, agg)
		}
	}
	for operand, inputs := range facts.Singles {
		agg := FactAggregate{Key: model.FactKey{First: operand, Second: -1}}
		for _, in := range inputs {
			agg.Attempts++
			if in.Data.Correct {
				agg.Correct++
			}
			agg.ElapsedSumMs += in.Data.ElapsedMs
		}
		result = append(result, agg)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Key.First == result[j].Key.First {
			return result[i].Key.Second < result[j].Key.Second
		}
		return result[i].Key.First < result[j].Key.First
	})
	return result
}

// SelectWeakFacts selects the lowest-accuracy facts from aggregates.
func SelectWeakFacts(aggs []FactAggregate, top int) map[model.FactKey]struct{} {
	weakSet := map[model.FactKey]struct{}{}
	if len(aggs) == 0 {
		return weakSet
	}
	candidates := make([]FactAggregate, len(aggs))
	copy(candidates, aggs)
	sort.Slice(candidates, func(i, j int) bool {
		ai := candidates[i].Accuracy()
		aj := candidates[j].Accuracy()
		if ai == aj {
			if candidates[i].Key.First == candidates[j].Key.First {
				return candidates[i].Key.Second < candidates[j].Key.Second
			}
			return candidates[i].Key.First < candidates[j].Key.First
		}
		return ai < aj
	})
	if top <= 0 || top > len(candidates) {
		top = len(candidates)
	}
	for i := 0; i < top; i++ {
		weakSet[candidates[i].Key] = struct{}{}
	}
	return weakSet
}

// FactLabel renders a fact key for display, e.g. "7 × 8" or "42".
func FactLabel(operation string, key model.FactKey) string {
	if key.Second < 0 {
		return strconv.Itoa(key.First)
	}
	symbol := "×"
	if operation == model.OpAddition {
		symbol = "+"
	}
	return strconv.Itoa(key.First) + " " + symbol + " " + strconv.Itoa(key.Second)
}
