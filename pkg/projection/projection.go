// Package projection reconstructs an observer's view of a run from the
// event stream: a two-level ordered table of parent outcome rows with
// nested step rows, plus detail stores for on-demand network inspection.
// The reducer is pure state. It renders nothing; UI adapters read Rows
// and Detail.
package projection

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

// StepRow is one nested progress entry under a parent iteration row.
type StepRow struct {
	Key       string
	Message   string
	HasDetail bool
}

// ParentRow is the per-iteration outcome row. Until the outcome arrives it
// is a placeholder anchored by the iteration's first step, showing the
// latest step message in place of final data.
type ParentRow struct {
	Iteration   int
	Placeholder bool
	LastStep    string

	Status     event.Status
	StatusText string
	Class      event.Class
	Method     string
	URL        string
	Timestamp  int64
	Summary    string
}

// Row is one presentation line: a parent with its nested steps attached.
type Row struct {
	Parent   ParentRow
	Steps    []StepRow
	Expanded bool
}

// View is the incremental reducer. Not safe for concurrent use; callers
// serialize Apply with reads, matching single-consumer stream delivery.
type View struct {
	parents  map[int]*ParentRow
	steps    map[int][]StepRow
	stepSeq  map[int]int
	expanded map[int]bool

	outcomeStore    map[int]event.Outcome
	stepDetailStore map[string]*event.NetworkDetail

	finished bool
	runError *event.RunError
}

// NewView returns an empty view ready to consume a run's stream.
func NewView() *View {
	v := &View{}
	v.reset()
	return v
}

func (v *View) reset() {
	v.parents = make(map[int]*ParentRow)
	v.steps = make(map[int][]StepRow)
	v.stepSeq = make(map[int]int)
	v.expanded = make(map[int]bool)
	v.outcomeStore = make(map[int]event.Outcome)
	v.stepDetailStore = make(map[string]*event.NetworkDetail)
	v.finished = false
	v.runError = nil
}

// Reset clears the view for a new run.
func (v *View) Reset() { v.reset() }

// Finished reports whether the run's terminal event has been consumed.
func (v *View) Finished() bool { return v.finished }

// RunError returns the run-level error, if one was reported.
func (v *View) RunError() *event.RunError { return v.runError }

// Apply folds one event into the view. Events arriving after the finished
// event are ignored; a new run must Reset first.
func (v *View) Apply(env event.Envelope) error {
	if v.finished {
		return nil
	}
	switch env.Kind {
	case event.KindProgress:
		p, ok := env.Payload.(event.Progress)
		if !ok {
			return fmt.Errorf("progress event with payload %T", env.Payload)
		}
		v.applyProgress(p)
	case event.KindOutcome:
		o, ok := env.Payload.(event.Outcome)
		if !ok {
			return fmt.Errorf("outcome event with payload %T", env.Payload)
		}
		v.applyOutcome(o)
	case event.KindFinished:
		v.finished = true
	case event.KindRunError:
		e, ok := env.Payload.(event.RunError)
		if !ok {
			return fmt.Errorf("run-error event with payload %T", env.Payload)
		}
		v.runError = &e
	default:
		return fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return nil
}

func (v *View) applyProgress(p event.Progress) {
	parent, ok := v.parents[p.ID]
	if !ok {
		// Steps can precede their outcome; anchor them to a placeholder.
		parent = &ParentRow{Iteration: p.ID, Placeholder: true, Status: event.StatusUnknown}
		v.parents[p.ID] = parent
	}
	// Progress only drives the live view of a pending iteration. Once an
	// outcome has landed the row keeps its collapsed state and summary;
	// straggler steps are still recorded and stay addressable.
	if parent.Placeholder {
		parent.LastStep = p.Message
	}

	v.stepSeq[p.ID]++
	key := StepKey(p.ID, v.stepSeq[p.ID])
	row := StepRow{Key: key, Message: p.Message}
	if p.Details != nil {
		detail := *p.Details
		v.stepDetailStore[key] = &detail
		row.HasDetail = true
	}
	v.steps[p.ID] = append(v.steps[p.ID], row)
	if parent.Placeholder {
		v.expanded[p.ID] = true
	}
}

func (v *View) applyOutcome(o event.Outcome) {
	parent, ok := v.parents[o.ID]
	if !ok {
		parent = &ParentRow{Iteration: o.ID}
		v.parents[o.ID] = parent
	}
	parent.Placeholder = false
	parent.LastStep = ""
	parent.Status = o.Status
	parent.StatusText = o.StatusText
	parent.Class = event.Classify(o.Status)
	parent.Method = o.Method
	parent.URL = o.URL
	parent.Timestamp = o.Timestamp
	parent.Summary = outcomeSummary(o)

	v.outcomeStore[o.ID] = o
	if len(v.steps[o.ID]) > 0 {
		v.expanded[o.ID] = false
	}
}

func outcomeSummary(o event.Outcome) string {
	if o.Error != "" {
		return o.Error
	}
	if o.ResponseSnippet != "" {
		return o.ResponseSnippet
	}
	return "(No response body)"
}

// Toggle flips a parent's expand state. Collapsing hides nothing from the
// stores; the nested rows stay addressable.
func (v *View) Toggle(iteration int) {
	if len(v.steps[iteration]) == 0 {
		return
	}
	v.expanded[iteration] = !v.expanded[iteration]
}

// Rows returns the view in presentation order: ascending iteration, each
// parent followed by its steps in emission order.
func (v *View) Rows() []Row {
	ids := make([]int, 0, len(v.parents))
	for id := range v.parents {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	rows := make([]Row, 0, len(ids))
	for _, id := range ids {
		steps := v.steps[id]
		out := Row{Parent: *v.parents[id], Expanded: v.expanded[id]}
		if len(steps) > 0 {
			out.Steps = make([]StepRow, len(steps))
			copy(out.Steps, steps)
		}
		rows = append(rows, out)
	}
	return rows
}

// StepKey builds the identifier of the n-th step of an iteration.
func StepKey(iteration, n int) string {
	return fmt.Sprintf("%d#%d", iteration, n)
}

// Detail resolves an identifier to displayable network detail. Outcome
// identifiers are plain iteration numbers; step identifiers carry a "#".
// Both shapes normalize to NetworkDetail so one detail view serves both.
func (v *View) Detail(id string) (*event.NetworkDetail, bool) {
	if strings.Contains(id, "#") {
		d, ok := v.stepDetailStore[id]
		if !ok {
			return nil, false
		}
		detail := *d
		return &detail, true
	}

	iteration, err := strconv.Atoi(id)
	if err != nil {
		return nil, false
	}
	o, ok := v.outcomeStore[iteration]
	if !ok {
		return nil, false
	}
	return &event.NetworkDetail{
		URL:                o.URL,
		Method:             o.Method,
		RequestHeaders:     o.RequestHeaders,
		RequestBody:        o.RequestBody,
		ResponseStatus:     o.Status,
		ResponseStatusText: o.StatusText,
		ResponseHeaders:    o.ResponseHeaders,
		ResponseSnippet:    o.ResponseSnippet,
		Error:              o.Error,
	}, true
}
