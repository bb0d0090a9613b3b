// Package model defines shared data structures.
package model

import "time"

// Operation kinds recorded by the store. The set is open-ended; these are
// the kinds the bundled drills produce.
const (
	OpMultiplication = "multiplication"
	OpAddition       = "addition"
	OpTyping         = "typing"
)

// DefaultOperations lists the operation kinds an empty store is initialized
// with.
var DefaultOperations = []string{OpMultiplication, OpAddition, OpTyping}

// Arity returns how many operands an operation kind takes.
func Arity(operation string) int {
	if operation == OpTyping {
		return 1
	}
	return 2
}

// User is one local profile sharing the installation. The id is the user's
// position in the list at creation time and is never reused or renumbered.
type User struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Deleted bool   `json:"deleted"`
}

// Attempt is the payload recorded for a single answered problem.
type Attempt struct {
	Answer    int       `json:"answer"`
	Correct   bool      `json:"correct"`
	ElapsedMs int64     `json:"elapsedMs"`
	At        time.Time `json:"at"`
}

// AttemptInput pairs a problem's operands with its attempt payload.
type AttemptInput struct {
	Inputs []int   `json:"inputs"`
	Data   Attempt `json:"data"`
}

// FactKey identifies a single fact. Second is -1 for one-input operations.
type FactKey struct {
	First  int
	Second int
}

// OperationFacts holds the sparse attempt log for one operation kind.
// Two-input operations land in Pairs and store only the attempt payload;
// one-input operations land in Singles and store the whole input, operands
// included. Index paths are created lazily on first write.
type OperationFacts struct {
	Pairs   map[int]map[int][]Attempt `json:"pairs,omitempty"`
	Singles map[int][]AttemptInput    `json:"singles,omitempty"`
}

// FactData maps operation kind to its recorded facts.
type FactData map[string]*OperationFacts

// Clone returns a deep copy. The store hands copies to callers and to the
// mirror pusher so the shared state record is never reachable outside it.
func (fd FactData) Clone() FactData {
	if fd == nil {
		return nil
	}
	out := make(FactData, len(fd))
	for op, facts := range fd {
		out[op] = facts.clone()
	}
	return out
}

func (of *OperationFacts) clone() *OperationFacts {
	if of == nil {
		return nil
	}
	out := &OperationFacts{}
	if of.Pairs != nil {
		out.Pairs = make(map[int]map[int][]Attempt, len(of.Pairs))
		for first, row := range of.Pairs {
			cells := make(map[int][]Attempt, len(row))
			for second, attempts := range row {
				cells[second] = append([]Attempt(nil), attempts...)
			}
			out.Pairs[first] = cells
		}
	}
	if of.Singles != nil {
		out.Singles = make(map[int][]AttemptInput, len(of.Singles))
		for operand, inputs := range of.Singles {
			out.Singles[operand] = append([]AttemptInput(nil), inputs...)
		}
	}
	return out
}

// NewFactData returns fact data with an empty entry per default operation.
func NewFactData() FactData {
	fd := make(FactData, len(DefaultOperations))
	for _, op := range DefaultOperations {
		fd[op] = &OperationFacts{}
	}
	return fd
}

// Snapshot is the per-user state mirrored to the remote store.
type Snapshot struct {
	Points   int      `json:"points"`
	Scores   []int    `json:"scores"`
	FactData FactData `json:"factData"`
}

// DrillConfig defines drill settings.
type DrillConfig struct {
	Operation  string
	Problems   int
	MaxOperand int
	FocusWeak  bool
	WeakTop    int
	WeakFactor float64
}
