package stats

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/mtt87/math-facts/internal/model"
)

// RenderSummary prints the active user's points summary. The recent-scores
// line is clipped to totalWidth columns.
func RenderSummary(w io.Writer, user model.User, points int, scores []int, totalWidth int) error {
	if _, err := fmt.Fprintf(w, "User: %s (id %d)\n", user.Name, user.ID); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Points: %d\n", points); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Drills scored: %d\n", len(scores)); err != nil {
		return err
	}
	if len(scores) == 0 {
		_, err := fmt.Fprintln(w, "")
		return err
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s > best {
			best = s
		}
	}
	if _, err := fmt.Fprintf(w, "Best score: %d\n", best); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "Recent: %s\n", recentScoresLine(scores, totalWidth)); err != nil {
		return err
	}
	_, err := fmt.Fprintln(w, "")
	return err
}

// recentScoresLine renders the newest scores first, keeping within width.
func recentScoresLine(scores []int, width int) string {
	const prefixWidth = len("Recent: ")
	budget := width - prefixWidth
	if budget < 1 {
		budget = 1
	}
	parts := []string{}
	used := 0
	for i := len(scores) - 1; i >= 0; i-- {
		part := strconv.Itoa(scores[i])
		next := used + displayWidth(part)
		if len(parts) > 0 {
			next += 1
		}
		if next > budget {
			break
		}
		parts = append(parts, part)
		used = next
	}
	return strings.Join(parts, " ")
}

// RenderFactTable prints per-fact aggregates for one operation, weakest
// facts first.
func RenderFactTable(w io.Writer, operation string, aggs []FactAggregate) error {
	title := strings.ToUpper(operation[:1]) + operation[1:]
	if _, err := fmt.Fprintln(w, title); err != nil {
		return err
	}
	if len(aggs) == 0 {
		if _, err := fmt.Fprintln(w, "No attempts recorded."); err != nil {
			return err
		}
		_, err := fmt.Fprintln(w, "")
		return err
	}

	sorted := make([]FactAggregate, len(aggs))
	copy(sorted, aggs)
	// Weakest facts first.
	sort.Slice(sorted, func(i, j int) bool {
		ai := sorted[i].Accuracy()
		aj := sorted[j].Accuracy()
		if ai == aj {
			if sorted[i].Key.First == sorted[j].Key.First {
				return sorted[i].Key.Second < sorted[j].Key.Second
			}
			return sorted[i].Key.First < sorted[j].Key.First
		}
		return ai < aj
	})

	headers := []string{"Fact", "Accuracy", "Avg Time (ms)", "Attempts"}
	rows := make([][]string, 0, len(sorted))
	for _, agg := range sorted {
		rows = append(rows, []string{
			FactLabel(operation, agg.Key),
			fmt.Sprintf("%.1f%%", agg.Accuracy()*100),
			fmt.Sprintf("%.0f", agg.AvgElapsedMs()),
			fmt.Sprintf("%d", agg.Attempts),
		})
	}
	rightAlign := map[int]bool{1: true, 2: true, 3: true}
	for _, line := range formatTable(headers, rows, rightAlign) {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "")
	return err
}
