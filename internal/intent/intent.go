// Package intent maps tool calls from the live session onto database
// mutations.
//
// Each intent has a fixed recipe: validate the typed arguments, derive any
// missing fields (project resolution, ordering position), execute the
// mutation, and render a human-readable outcome. Dispatch always yields
// exactly one outcome string, one tool-result reply, and one system
// transcript turn, on every path including failure.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/jmherbst/voxdesk/internal/intent/phonetic"
	"github.com/jmherbst/voxdesk/internal/observe"
	"github.com/jmherbst/voxdesk/internal/store"
	"github.com/jmherbst/voxdesk/internal/transcript"
	"github.com/jmherbst/voxdesk/pkg/live"
)

// Intent-level errors. They fail one call, never the session.
var (
	ErrProjectNotFound  = errors.New("intent: project not found")
	ErrAmbiguousProject = errors.New("intent: multiple projects match")
	ErrMutationFailed   = errors.New("intent: mutation failed")
	ErrUnknownIntent    = errors.New("intent: unknown intent")
)

// Intent names as declared to the model.
const (
	IntentCreateProject     = "create_project"
	IntentCreateSkill       = "create_skill"
	IntentCreateTransaction = "create_transaction"
	IntentCreateTask        = "create_task"
)

const defaultStatus = "not started"

// CreateProjectArgs are the arguments for create_project.
type CreateProjectArgs struct {
	Name     string `json:"name"`
	Client   string `json:"client"`
	Deadline string `json:"deadline"`
	Category string `json:"category"`
}

// CreateSkillArgs are the arguments for create_skill.
type CreateSkillArgs struct {
	Name     string `json:"name"`
	Deadline string `json:"deadline"`
	Category string `json:"category"`
	Status   string `json:"status"`
}

// CreateTransactionArgs are the arguments for create_transaction.
type CreateTransactionArgs struct {
	Description string  `json:"description"`
	Amount      float64 `json:"amount"`
	Date        string  `json:"date"`
	Type        string  `json:"type"`
}

// CreateTaskArgs are the arguments for create_task.
type CreateTaskArgs struct {
	Text        string `json:"text"`
	ProjectName string `json:"project_name"`
}

// Dispatcher executes intent calls against the store and records outcomes
// in the transcript.
type Dispatcher struct {
	store   store.Store
	log     *transcript.Log
	slog    *slog.Logger
	met     *observe.Metrics
	matcher *phonetic.Matcher
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher's logger.
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) { d.slog = log }
}

// WithMetrics sets the dispatcher's metrics instance.
func WithMetrics(met *observe.Metrics) Option {
	return func(d *Dispatcher) { d.met = met }
}

// NewDispatcher creates a Dispatcher writing to st and logging outcomes
// into tl.
func NewDispatcher(st store.Store, tl *transcript.Log, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:   st,
		log:     tl,
		slog:    slog.Default(),
		met:     observe.DefaultMetrics(),
		matcher: phonetic.New(),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dispatch executes one intent call and returns the outcome string. The
// outcome is also appended to the transcript as a system turn. Dispatch
// never returns an error; failures become failure outcomes.
func (d *Dispatcher) Dispatch(ctx context.Context, call live.Call) string {
	start := time.Now()
	outcome, err := d.execute(ctx, call)

	status := "ok"
	if err != nil {
		status = "error"
		d.slog.Warn("intent failed", "intent", call.Name, "call_id", call.ID, "error", err)
		outcome = failureOutcome(call.Name, err)
	} else {
		d.slog.Info("intent executed", "intent", call.Name, "call_id", call.ID)
	}
	d.met.IntentDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(observe.Attr("intent", call.Name)))
	d.met.RecordIntentCall(ctx, call.Name, status)

	d.log.AppendSystem(outcome)
	return outcome
}

func (d *Dispatcher) execute(ctx context.Context, call live.Call) (string, error) {
	switch call.Name {
	case IntentCreateProject:
		return d.createProject(ctx, call.Args)
	case IntentCreateSkill:
		return d.createSkill(ctx, call.Args)
	case IntentCreateTransaction:
		return d.createTransaction(ctx, call.Args)
	case IntentCreateTask:
		return d.createTask(ctx, call.Args)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownIntent, call.Name)
	}
}

func (d *Dispatcher) createProject(ctx context.Context, raw map[string]any) (string, error) {
	var args CreateProjectArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := requireFields(field{"name", args.Name}, field{"client", args.Client},
		field{"deadline", args.Deadline}, field{"category", args.Category}); err != nil {
		return "", err
	}

	_, err := d.store.Insert(ctx, store.TableProjects, store.Record{
		"name":     args.Name,
		"client":   args.Client,
		"deadline": args.Deadline,
		"category": args.Category,
		"status":   defaultStatus,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}
	return fmt.Sprintf("Created project %q for client %q.", args.Name, args.Client), nil
}

func (d *Dispatcher) createSkill(ctx context.Context, raw map[string]any) (string, error) {
	var args CreateSkillArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := requireFields(field{"name", args.Name}, field{"deadline", args.Deadline},
		field{"category", args.Category}, field{"status", args.Status}); err != nil {
		return "", err
	}

	_, err := d.store.Insert(ctx, store.TableSkills, store.Record{
		"name":     args.Name,
		"deadline": args.Deadline,
		"category": args.Category,
		"status":   args.Status,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}
	return fmt.Sprintf("Created skill %q.", args.Name), nil
}

func (d *Dispatcher) createTransaction(ctx context.Context, raw map[string]any) (string, error) {
	var args CreateTransactionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := requireFields(field{"description", args.Description}, field{"date", args.Date},
		field{"type", args.Type}); err != nil {
		return "", err
	}
	// amount is numeric, so the string check above cannot see it; an absent
	// amount would otherwise decode to 0 and book a zero-value transaction.
	if _, ok := raw["amount"]; !ok {
		return "", fmt.Errorf("intent: invalid arguments: missing required argument %q", "amount")
	}

	_, err := d.store.Insert(ctx, store.TableTransactions, store.Record{
		"description": args.Description,
		"amount":      args.Amount,
		"date":        args.Date,
		"type":        args.Type,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}
	return fmt.Sprintf("Recorded %s transaction %q of %.2f.", args.Type, args.Description, args.Amount), nil
}

func (d *Dispatcher) createTask(ctx context.Context, raw map[string]any) (string, error) {
	var args CreateTaskArgs
	if err := decodeArgs(raw, &args); err != nil {
		return "", err
	}
	if err := requireFields(field{"text", args.Text}, field{"project_name", args.ProjectName}); err != nil {
		return "", err
	}

	project, err := d.resolveProject(ctx, args.ProjectName)
	if err != nil {
		return "", err
	}
	projectID, _ := project["id"].(string)
	projectName, _ := project["name"].(string)

	position := 0
	max, ok, err := d.store.SelectMaxInt(ctx, store.TableSubtasks, "position", store.Filter{"project_id": projectID})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}
	if ok {
		position = max + 1
	}

	_, err = d.store.Insert(ctx, store.TableSubtasks, store.Record{
		"name":       args.Text,
		"project_id": projectID,
		"position":   position,
		"status":     defaultStatus,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}
	return fmt.Sprintf("Added task %q to project %q.", args.Text, projectName), nil
}

// resolveProject finds the single project whose name contains the spoken
// name, case-insensitively. Zero matches fail with ErrProjectNotFound and a
// fuzzy suggestion where one exists; multiple matches fail with
// ErrAmbiguousProject rather than silently picking one.
func (d *Dispatcher) resolveProject(ctx context.Context, name string) (store.Record, error) {
	matches, err := d.store.SelectAll(ctx, store.TableProjects, store.Filter{"name": store.Contains(name)})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMutationFailed, err)
	}

	switch len(matches) {
	case 0:
		if hint := d.suggestProject(ctx, name); hint != "" {
			return nil, fmt.Errorf("%w: %q (did you mean %q?)", ErrProjectNotFound, name, hint)
		}
		return nil, fmt.Errorf("%w: %q", ErrProjectNotFound, name)
	case 1:
		return matches[0], nil
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i], _ = m["name"].(string)
		}
		return nil, fmt.Errorf("%w: %q matches %s", ErrAmbiguousProject, name, strings.Join(names, ", "))
	}
}

// suggestProject matches the spoken name against every project name and
// returns the best phonetic candidate, or "".
func (d *Dispatcher) suggestProject(ctx context.Context, name string) string {
	all, err := d.store.SelectAll(ctx, store.TableProjects, nil)
	if err != nil {
		return ""
	}

	known := make([]string, 0, len(all))
	for _, rec := range all {
		if candidate, _ := rec["name"].(string); candidate != "" {
			known = append(known, candidate)
		}
	}

	best, _, matched := d.matcher.Match(name, known)
	if !matched {
		return ""
	}
	return best
}

// decodeArgs converts the untyped argument map into a typed struct via a
// JSON round trip, rejecting fields of the wrong type.
func decodeArgs(raw map[string]any, into any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("intent: encode args: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("intent: invalid arguments: %w", err)
	}
	return nil
}

type field struct {
	name  string
	value string
}

// requireFields collects all missing required arguments into one error.
func requireFields(fields ...field) error {
	var errs []error
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("missing required argument %q", f.name))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("intent: invalid arguments: %w", err)
	}
	return nil
}

func failureOutcome(name string, err error) string {
	switch {
	case errors.Is(err, ErrUnknownIntent):
		return fmt.Sprintf("Intent %q is not implemented.", name)
	case errors.Is(err, ErrProjectNotFound):
		return fmt.Sprintf("Could not complete %s: %v.", name, trimPrefix(err))
	case errors.Is(err, ErrAmbiguousProject):
		return fmt.Sprintf("Could not complete %s: %v.", name, trimPrefix(err))
	default:
		return fmt.Sprintf("Failed to execute %s: %v.", name, trimPrefix(err))
	}
}

// trimPrefix drops the package prefix from an error so the spoken-facing
// outcome reads naturally.
func trimPrefix(err error) string {
	return strings.TrimPrefix(err.Error(), "intent: ")
}
