package projection

import (
	"reflect"
	"testing"

	"github.com/pardeema/bot-attack-simulator/pkg/event"
)

func progressEnv(id int, msg string) event.Envelope {
	return event.NewProgress(event.Progress{ID: id, Message: msg})
}

func outcomeEnv(id int, status event.Status) event.Envelope {
	return event.NewOutcome(event.Outcome{
		ID: id, URL: "http://localhost:3000/api/auth/login", Method: "POST",
		Status: status, StatusText: "Unauthorized", Timestamp: 1700000000000,
		ResponseSnippet: `{"error":"Invalid credentials"}`,
	})
}

func apply(t *testing.T, v *View, envs ...event.Envelope) {
	t.Helper()
	for _, env := range envs {
		if err := v.Apply(env); err != nil {
			t.Fatalf("apply %s: %v", env.Kind, err)
		}
	}
}

func TestStepBeforeOutcomeSynthesizesPlaceholder(t *testing.T) {
	v := NewView()
	apply(t, v, progressEnv(1, "Launching browser..."))

	rows := v.Rows()
	if len(rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(rows))
	}
	p := rows[0].Parent
	if !p.Placeholder {
		t.Error("parent should be a placeholder before its outcome")
	}
	if p.Status != event.StatusUnknown {
		t.Errorf("placeholder status = %v, want unknown", p.Status)
	}
	if p.LastStep != "Launching browser..." {
		t.Errorf("LastStep = %q", p.LastStep)
	}
	if !rows[0].Expanded {
		t.Error("iteration with live steps should be expanded")
	}
}

func TestStepKeysCountPerIteration(t *testing.T) {
	v := NewView()
	apply(t, v,
		progressEnv(1, "a"), progressEnv(1, "b"),
		progressEnv(2, "c"), progressEnv(1, "d"),
	)

	rows := v.Rows()
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	keys := []string{rows[0].Steps[0].Key, rows[0].Steps[1].Key, rows[0].Steps[2].Key}
	want := []string{"1#1", "1#2", "1#3"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("iteration 1 step keys = %v, want %v", keys, want)
	}
	if got := rows[1].Steps[0].Key; got != "2#1" {
		t.Errorf("iteration 2 first step key = %q", got)
	}
}

func TestOutcomeFillsParentAndCollapsesSteps(t *testing.T) {
	v := NewView()
	apply(t, v,
		progressEnv(1, "Sending request 1..."),
		outcomeEnv(1, 401),
	)

	rows := v.Rows()
	p := rows[0].Parent
	if p.Placeholder {
		t.Error("parent still a placeholder after outcome")
	}
	if p.LastStep != "" {
		t.Error("transient step message should be cleared by the outcome")
	}
	if p.Class != event.ClassClientError {
		t.Errorf("class = %q, want client-error", p.Class)
	}
	if p.Summary != `{"error":"Invalid credentials"}` {
		t.Errorf("summary = %q", p.Summary)
	}
	if rows[0].Expanded {
		t.Error("steps should auto-collapse when the outcome lands")
	}
	if len(rows[0].Steps) != 1 {
		t.Error("collapse must not discard step rows")
	}
}

func TestStragglerStepLeavesCollapsedRowAlone(t *testing.T) {
	v := NewView()
	apply(t, v,
		progressEnv(1, "Sending request 1..."),
		outcomeEnv(1, 200),
		progressEnv(1, "Closing browser..."),
	)

	rows := v.Rows()
	if rows[0].Expanded {
		t.Error("a straggler step must not re-expand a settled row")
	}
	if got := rows[0].Parent.LastStep; got != "" {
		t.Errorf("LastStep = %q, want empty after the outcome", got)
	}
	if len(rows[0].Steps) != 2 {
		t.Errorf("got %d step rows, want 2; straggler steps are still recorded", len(rows[0].Steps))
	}
}

func TestOutcomeWithoutStepsStaysUnexpanded(t *testing.T) {
	v := NewView()
	apply(t, v, outcomeEnv(1, 200))

	rows := v.Rows()
	if rows[0].Expanded {
		t.Error("no steps, nothing to expand")
	}
	v.Toggle(1)
	if v.Rows()[0].Expanded {
		t.Error("toggle on a stepless parent is a no-op")
	}
}

func TestToggleKeepsData(t *testing.T) {
	v := NewView()
	apply(t, v, progressEnv(3, "x"), outcomeEnv(3, 200))

	v.Toggle(3)
	rows := v.Rows()
	if !rows[0].Expanded {
		t.Error("toggle should re-expand")
	}
	if len(rows[0].Steps) != 1 {
		t.Error("step data lost across toggles")
	}
}

func TestRowsOrderedByIteration(t *testing.T) {
	v := NewView()
	apply(t, v,
		outcomeEnv(3, 200),
		progressEnv(1, "late step"),
		outcomeEnv(2, 200),
		outcomeEnv(1, 200),
	)

	rows := v.Rows()
	var ids []int
	for _, r := range rows {
		ids = append(ids, r.Parent.Iteration)
	}
	if !reflect.DeepEqual(ids, []int{1, 2, 3}) {
		t.Errorf("row order = %v", ids)
	}
}

func TestErrorOutcomeClassification(t *testing.T) {
	v := NewView()
	apply(t, v, event.NewOutcome(event.Outcome{
		ID: 1, Status: event.StatusError, StatusText: "Network Error",
		Error: "dial tcp: connection refused",
	}))

	p := v.Rows()[0].Parent
	if p.Class != event.ClassClientError {
		t.Errorf("explicit Error status classifies as %q, want client-error", p.Class)
	}
	if p.Summary != "dial tcp: connection refused" {
		t.Errorf("summary should prefer the error text, got %q", p.Summary)
	}
}

func TestDetailLookupBothShapes(t *testing.T) {
	v := NewView()
	stepDetail := &event.NetworkDetail{
		URL: "http://localhost:3000/api/auth/login", Method: "POST",
		ResponseStatus: 401, ResponseStatusText: "Unauthorized",
	}
	apply(t, v,
		event.NewProgress(event.Progress{ID: 1, Message: "Captured API exchange", Details: stepDetail}),
		outcomeEnv(1, 401),
	)

	// Step identifier resolves through the step detail store.
	d, ok := v.Detail("1#1")
	if !ok {
		t.Fatal("step detail missing")
	}
	if d.ResponseStatus != 401 || d.Method != "POST" {
		t.Errorf("step detail = %+v", d)
	}

	// Outcome identifier normalizes the outcome into the same shape.
	d, ok = v.Detail("1")
	if !ok {
		t.Fatal("outcome detail missing")
	}
	if d.ResponseStatus != 401 || d.ResponseStatusText != "Unauthorized" {
		t.Errorf("outcome detail = %+v", d)
	}
	if d.ResponseSnippet != `{"error":"Invalid credentials"}` {
		t.Errorf("snippet = %q", d.ResponseSnippet)
	}

	if _, ok := v.Detail("9"); ok {
		t.Error("unknown outcome id should miss")
	}
	if _, ok := v.Detail("1#9"); ok {
		t.Error("unknown step id should miss")
	}
	if _, ok := v.Detail("bogus"); ok {
		t.Error("non-numeric id should miss")
	}
}

func TestDetailStableAfterFinish(t *testing.T) {
	v := NewView()
	apply(t, v, outcomeEnv(1, 401))

	before, _ := v.Detail("1")
	apply(t, v, event.NewFinished(event.Finished{Message: "Stream finished"}))
	after, _ := v.Detail("1")

	if !reflect.DeepEqual(before, after) {
		t.Error("detail changed across finish")
	}
}

func TestFinishedFreezesView(t *testing.T) {
	v := NewView()
	apply(t, v,
		outcomeEnv(1, 200),
		event.NewFinished(event.Finished{Message: "Stream finished"}),
		outcomeEnv(2, 200),
		progressEnv(1, "straggler"),
	)

	if !v.Finished() {
		t.Fatal("view should be finished")
	}
	rows := v.Rows()
	if len(rows) != 1 {
		t.Errorf("post-finish events mutated the view: %d rows", len(rows))
	}
	if len(rows[0].Steps) != 0 {
		t.Error("post-finish step appended")
	}
}

func TestRunErrorRecorded(t *testing.T) {
	v := NewView()
	apply(t, v, event.NewRunError(event.RunError{Message: "simulation failed", Error: "boom"}))

	re := v.RunError()
	if re == nil || re.Error != "boom" {
		t.Fatalf("run error = %+v", re)
	}
}

func TestResetClearsEverything(t *testing.T) {
	v := NewView()
	apply(t, v,
		progressEnv(1, "a"),
		outcomeEnv(1, 200),
		event.NewFinished(event.Finished{Message: "Stream finished"}),
	)

	v.Reset()
	if v.Finished() {
		t.Error("reset view still finished")
	}
	if len(v.Rows()) != 0 {
		t.Error("rows survived reset")
	}
	if _, ok := v.Detail("1"); ok {
		t.Error("detail survived reset")
	}
}

// Replaying the same stream into a fresh view yields an identical result.
func TestReplayDeterminism(t *testing.T) {
	stream := []event.Envelope{
		progressEnv(1, "Launching browser..."),
		progressEnv(1, "Navigating to http://localhost:3000/login..."),
		outcomeEnv(1, 401),
		progressEnv(2, "Launching browser..."),
		event.NewProgress(event.Progress{ID: 2, Message: "Captured API exchange", Details: &event.NetworkDetail{
			URL: "http://localhost:3000/api/auth/login", Method: "POST", ResponseStatus: 200,
		}}),
		outcomeEnv(2, 200),
		event.NewFinished(event.Finished{Message: "Stream finished"}),
	}

	a, b := NewView(), NewView()
	apply(t, a, stream...)
	apply(t, b, stream...)

	if !reflect.DeepEqual(a.Rows(), b.Rows()) {
		t.Error("replay produced different rows")
	}
	da, _ := a.Detail("2#2")
	db, _ := b.Detail("2#2")
	if !reflect.DeepEqual(da, db) {
		t.Error("replay produced different detail")
	}
}

func TestApplyRejectsMismatchedPayload(t *testing.T) {
	v := NewView()
	err := v.Apply(event.Envelope{Kind: event.KindOutcome, Payload: "not an outcome"})
	if err == nil {
		t.Fatal("expected payload type error")
	}
	err = v.Apply(event.Envelope{Kind: "mystery", Payload: nil})
	if err == nil {
		t.Fatal("expected unknown kind error")
	}
}
