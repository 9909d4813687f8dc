package intent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmherbst/voxdesk/internal/store"
	"github.com/jmherbst/voxdesk/internal/store/mock"
	"github.com/jmherbst/voxdesk/internal/transcript"
	"github.com/jmherbst/voxdesk/pkg/live"
)

func newDispatcher(st *mock.Store) (*Dispatcher, *transcript.Log) {
	tl := transcript.NewLog()
	return NewDispatcher(st, tl), tl
}

// lastSystemTurn returns the text of the trailing system turn.
func lastSystemTurn(t *testing.T, tl *transcript.Log) string {
	t.Helper()
	turns := tl.Turns()
	if len(turns) == 0 {
		t.Fatal("transcript is empty")
	}
	last := turns[len(turns)-1]
	if last.Speaker != transcript.SpeakerSystem {
		t.Fatalf("last turn speaker = %q, want system", last.Speaker)
	}
	return last.Text
}

func TestCreateTaskResolvesProjectAndPosition(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Nova Launch"})
	d, tl := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova"},
	})

	inserts := st.Inserts()
	if len(inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(inserts))
	}
	ins := inserts[0]
	if ins.Table != store.TableSubtasks {
		t.Errorf("table = %q", ins.Table)
	}
	if ins.Record["name"] != "Draft proposal" || ins.Record["project_id"] != "p1" {
		t.Errorf("record = %v", ins.Record)
	}
	if ins.Record["position"] != 0 {
		t.Errorf("position = %v, want 0", ins.Record["position"])
	}
	if ins.Record["status"] != "not started" {
		t.Errorf("status = %v", ins.Record["status"])
	}

	if !strings.Contains(outcome, "Draft proposal") || !strings.Contains(outcome, "Nova Launch") {
		t.Errorf("outcome = %q, want task and project names", outcome)
	}
	if got := lastSystemTurn(t, tl); got != outcome {
		t.Errorf("transcript = %q, outcome = %q", got, outcome)
	}
}

func TestCreateTaskAppendsAfterExistingTasks(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Nova Launch"})
	st.Seed(store.TableSubtasks, store.Record{"project_id": "p1", "position": 0})
	st.Seed(store.TableSubtasks, store.Record{"project_id": "p1", "position": 4})
	d, _ := newDispatcher(st)

	d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTask,
		Args: map[string]any{"text": "Review contract", "project_name": "Nova"},
	})

	inserts := st.Inserts()
	if len(inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(inserts))
	}
	if got := inserts[0].Record["position"]; got != 5 {
		t.Errorf("position = %v, want 5", got)
	}
}

func TestCreateTaskProjectNotFound(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Website Redesign"})
	d, tl := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova"},
	})

	if len(st.Inserts()) != 0 {
		t.Errorf("insert happened despite missing project")
	}
	if !strings.Contains(outcome, "not found") {
		t.Errorf("outcome = %q", outcome)
	}
	lastSystemTurn(t, tl)
}

func TestCreateTaskNotFoundSuggestsSimilarName(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Novalaunch"})
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova lunch"},
	})

	if !strings.Contains(outcome, "did you mean") || !strings.Contains(outcome, "Novalaunch") {
		t.Errorf("outcome = %q, want suggestion", outcome)
	}
}

func TestCreateTaskAmbiguousProject(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Nova Launch"})
	st.Seed(store.TableProjects, store.Record{"id": "p2", "name": "Nova Research"})
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTask,
		Args: map[string]any{"text": "Draft proposal", "project_name": "nova"},
	})

	if len(st.Inserts()) != 0 {
		t.Errorf("insert happened despite ambiguous project")
	}
	if !strings.Contains(outcome, "Nova Launch") || !strings.Contains(outcome, "Nova Research") {
		t.Errorf("outcome = %q, want both candidate names", outcome)
	}
}

func TestCreateProject(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateProject,
		Args: map[string]any{
			"name": "Nova Launch", "client": "Acme",
			"deadline": "2026-10-01", "category": "marketing",
		},
	})

	inserts := st.Inserts()
	if len(inserts) != 1 {
		t.Fatalf("inserts = %d, want 1", len(inserts))
	}
	rec := inserts[0].Record
	if rec["status"] != "not started" {
		t.Errorf("status = %v, want default", rec["status"])
	}
	if !strings.Contains(outcome, "Nova Launch") {
		t.Errorf("outcome = %q", outcome)
	}
}

func TestCreateProjectMissingArgs(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateProject,
		Args: map[string]any{"name": "Nova Launch"},
	})

	if len(st.Inserts()) != 0 {
		t.Error("insert happened despite missing arguments")
	}
	for _, want := range []string{"client", "deadline", "category"} {
		if !strings.Contains(outcome, want) {
			t.Errorf("outcome %q does not name missing arg %q", outcome, want)
		}
	}
}

func TestCreateSkill(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateSkill,
		Args: map[string]any{
			"name": "Rust", "deadline": "2026-12-31",
			"category": "programming", "status": "in progress",
		},
	})

	inserts := st.Inserts()
	if len(inserts) != 1 || inserts[0].Table != store.TableSkills {
		t.Fatalf("inserts = %+v", inserts)
	}
	if inserts[0].Record["status"] != "in progress" {
		t.Errorf("status = %v", inserts[0].Record["status"])
	}
}

func TestCreateTransaction(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTransaction,
		Args: map[string]any{
			"description": "Invoice 42", "amount": 1250.5,
			"date": "2026-08-31", "type": "income",
		},
	})

	inserts := st.Inserts()
	if len(inserts) != 1 || inserts[0].Table != store.TableTransactions {
		t.Fatalf("inserts = %+v", inserts)
	}
	if inserts[0].Record["amount"] != 1250.5 {
		t.Errorf("amount = %v", inserts[0].Record["amount"])
	}
	if !strings.Contains(outcome, "Invoice 42") {
		t.Errorf("outcome = %q", outcome)
	}
}

func TestCreateTransactionMissingAmount(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	// Without the amount the call must fail validation, not book a
	// zero-value transaction.
	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTransaction,
		Args: map[string]any{
			"description": "Invoice 42", "date": "2026-08-31", "type": "income",
		},
	})

	if inserts := st.Inserts(); len(inserts) != 0 {
		t.Fatalf("inserts = %+v, want none", inserts)
	}
	if !strings.Contains(outcome, "amount") {
		t.Errorf("outcome = %q, want it to name the missing amount", outcome)
	}
}

func TestUnknownIntent(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, tl := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: "delete_everything",
		Args: map[string]any{},
	})

	if !strings.Contains(outcome, "not implemented") {
		t.Errorf("outcome = %q", outcome)
	}
	if len(st.Inserts()) != 0 {
		t.Error("unknown intent mutated the store")
	}
	lastSystemTurn(t, tl)
}

func TestMutationFailureProducesOutcome(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.InsertErr = errors.New("connection reset")
	d, tl := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateProject,
		Args: map[string]any{
			"name": "Nova Launch", "client": "Acme",
			"deadline": "2026-10-01", "category": "marketing",
		},
	})

	if !strings.Contains(outcome, "connection reset") {
		t.Errorf("outcome = %q, want underlying reason", outcome)
	}
	if got := lastSystemTurn(t, tl); got != outcome {
		t.Errorf("transcript = %q, outcome = %q", got, outcome)
	}
}

// Every call yields exactly one system turn, success or failure.
func TestExactlyOneSystemTurnPerCall(t *testing.T) {
	t.Parallel()
	st := mock.New()
	st.Seed(store.TableProjects, store.Record{"id": "p1", "name": "Nova Launch"})
	d, tl := newDispatcher(st)

	calls := []live.Call{
		{ID: "c1", Name: IntentCreateTask, Args: map[string]any{"text": "a", "project_name": "nova"}},
		{ID: "c2", Name: IntentCreateTask, Args: map[string]any{"text": "b", "project_name": "bogus"}},
		{ID: "c3", Name: "nope", Args: map[string]any{}},
	}
	for _, c := range calls {
		d.Dispatch(context.Background(), c)
	}

	if got := tl.Len(); got != len(calls) {
		t.Errorf("transcript turns = %d, want %d", got, len(calls))
	}
}

func TestDecodeArgsRejectsWrongTypes(t *testing.T) {
	t.Parallel()
	st := mock.New()
	d, _ := newDispatcher(st)

	outcome := d.Dispatch(context.Background(), live.Call{
		ID:   "call-1",
		Name: IntentCreateTransaction,
		Args: map[string]any{
			"description": "Invoice 42", "amount": "a lot",
			"date": "2026-08-31", "type": "income",
		},
	})

	if len(st.Inserts()) != 0 {
		t.Error("insert happened despite invalid argument type")
	}
	if !strings.Contains(outcome, "invalid arguments") {
		t.Errorf("outcome = %q", outcome)
	}
}

func TestSchemaDeclaresAllIntents(t *testing.T) {
	t.Parallel()

	defs := Schema()
	want := map[string]bool{
		IntentCreateProject:     false,
		IntentCreateSkill:       false,
		IntentCreateTransaction: false,
		IntentCreateTask:        false,
	}
	for _, def := range defs {
		if _, ok := want[def.Name]; !ok {
			t.Errorf("unexpected tool %q", def.Name)
			continue
		}
		want[def.Name] = true
		params, ok := def.Parameters["properties"].(map[string]any)
		if !ok || len(params) == 0 {
			t.Errorf("tool %q has no properties", def.Name)
		}
		if req, ok := def.Parameters["required"].([]string); !ok || len(req) == 0 {
			t.Errorf("tool %q has no required list", def.Name)
		}
	}
	for name, seen := range want {
		if !seen {
			t.Errorf("tool %q not declared", name)
		}
	}
}
