// Package reconcile merges a recognized present-set and a head count into a
// per-student attendance map for one class roster.
package reconcile

import (
	"fmt"
	"sync"

	"github.com/yoockh/smartattend/internal/models"
	"github.com/yoockh/smartattend/internal/rollcall"
	"github.com/yoockh/smartattend/internal/utils"
)

type Status string

const (
	Present Status = "present"
	Absent  Status = "absent"
)

// Resolution is the operator's answer to a head-count mismatch.
type Resolution int

const (
	// ResolveRetake resets everything and returns to capture.
	ResolveRetake Resolution = iota + 1
	// ResolveRedoVoice keeps the capture, clears statuses, returns to recognition.
	ResolveRedoVoice
	// ResolveOverride only acknowledges the mismatch.
	ResolveOverride
)

func (r Resolution) String() string {
	switch r {
	case ResolveRetake:
		return "retake"
	case ResolveRedoVoice:
		return "redo-voice"
	case ResolveOverride:
		return "override"
	default:
		return fmt.Sprintf("resolution(%d)", int(r))
	}
}

func ParseResolution(s string) (Resolution, error) {
	switch s {
	case "retake":
		return ResolveRetake, nil
	case "redo-voice", "redo_voice", "redo":
		return ResolveRedoVoice, nil
	case "override":
		return ResolveOverride, nil
	}
	return 0, utils.E(utils.CodeInvalidArgument, "reconcile.ParseResolution", "unknown resolution "+s, nil)
}

// Result summarizes one Apply.
type Result struct {
	PresentCount int  `json:"presentCount"`
	Headcount    int  `json:"headcount"`
	Mismatch     bool `json:"mismatch"`
	// Matched is how many identifiers in the present-set hit a roster entry.
	Matched int `json:"matched"`
}

// Engine holds the attendance map for an immutable roster.
type Engine struct {
	roster []models.Student
	index  map[string][]int // reg no -> roster positions

	mu       sync.RWMutex
	statuses map[string]Status
	mismatch bool
}

func New(roster []models.Student) *Engine {
	r := append([]models.Student(nil), roster...)
	e := &Engine{
		roster:   r,
		index:    make(map[string][]int, len(r)),
		statuses: make(map[string]Status, len(r)),
	}
	for i, s := range r {
		key := string(s.RegNo)
		e.index[key] = append(e.index[key], i)
		e.statuses[s.ID] = Absent
	}
	return e
}

func (e *Engine) Roster() []models.Student {
	return append([]models.Student(nil), e.roster...)
}

// Apply marks every roster entry whose registration number exactly equals a
// present identifier as Present, then compares the present count with the
// head count. Entries already Present stay Present.
func (e *Engine) Apply(present rollcall.Set, headcount int) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	matched := 0
	for id := range present {
		pos, ok := e.index[id]
		if !ok {
			continue
		}
		matched++
		for _, i := range pos {
			e.statuses[e.roster[i].ID] = Present
		}
	}
	n := e.presentCountLocked()
	e.mismatch = n != headcount
	return Result{PresentCount: n, Headcount: headcount, Mismatch: e.mismatch, Matched: matched}
}

// Toggle flips one student's status. It is always allowed.
func (e *Engine) Toggle(studentID string) (Status, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cur, ok := e.statuses[studentID]
	if !ok {
		return "", utils.E(utils.CodeNotFound, "Engine.Toggle", "student not on roster", utils.ErrNotFound)
	}
	next := Present
	if cur == Present {
		next = Absent
	}
	e.statuses[studentID] = next
	return next, nil
}

// Set assigns one student's status directly.
func (e *Engine) Set(studentID string, s Status) error {
	if s != Present && s != Absent {
		return utils.E(utils.CodeInvalidArgument, "Engine.Set", "invalid status "+string(s), nil)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.statuses[studentID]; !ok {
		return utils.E(utils.CodeNotFound, "Engine.Set", "student not on roster", utils.ErrNotFound)
	}
	e.statuses[studentID] = s
	return nil
}

// Resolve applies a mismatch resolution to the attendance map. Retake and
// RedoVoice clear every status; Override leaves statuses untouched. All three
// clear the mismatch flag.
func (e *Engine) Resolve(res Resolution) error {
	switch res {
	case ResolveRetake, ResolveRedoVoice:
		e.Reset()
		return nil
	case ResolveOverride:
		e.mu.Lock()
		e.mismatch = false
		e.mu.Unlock()
		return nil
	default:
		return utils.E(utils.CodeInvalidArgument, "Engine.Resolve", "unknown resolution "+res.String(), nil)
	}
}

// Reset marks everyone Absent and clears the mismatch flag.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k := range e.statuses {
		e.statuses[k] = Absent
	}
	e.mismatch = false
}

func (e *Engine) Mismatch() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mismatch
}

func (e *Engine) PresentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.presentCountLocked()
}

func (e *Engine) presentCountLocked() int {
	n := 0
	for _, s := range e.statuses {
		if s == Present {
			n++
		}
	}
	return n
}

// PresentIDs lists present student IDs in roster order.
func (e *Engine) PresentIDs() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.roster))
	for _, s := range e.roster {
		id := s.ID
		if e.statuses[id] == Present {
			out = append(out, id)
		}
	}
	return out
}

func (e *Engine) Statuses() map[string]Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]Status, len(e.statuses))
	for k, v := range e.statuses {
		out[k] = v
	}
	return out
}
