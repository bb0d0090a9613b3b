package tui

import (
	"testing"

	"github.com/mtt87/math-facts/internal/drill"
	"github.com/mtt87/math-facts/internal/model"
)

func TestPrompt(t *testing.T) {
	cases := []struct {
		problem drill.Problem
		want    string
	}{
		{drill.Problem{Operation: model.OpMultiplication, Operands: []int{7, 8}, Answer: 56}, "7 × 8 ="},
		{drill.Problem{Operation: model.OpAddition, Operands: []int{2, 9}, Answer: 11}, "2 + 9 ="},
		{drill.Problem{Operation: model.OpTyping, Operands: []int{42}, Answer: 42}, "type 42 ="},
	}
	for _, c := range cases {
		if got := prompt(c.problem); got != c.want {
			t.Fatalf("unexpected prompt for %v: %q", c.problem, got)
		}
	}
}
