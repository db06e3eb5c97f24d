package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/harunnryd/heike/internal/plan"
	"github.com/harunnryd/heike/internal/scheduler"
	"github.com/harunnryd/heike/internal/structuredmemory"
	"github.com/harunnryd/heike/internal/workflow"
)

// ReminderAdapter covers set_reminder/list_reminders/cancel_reminder,
// delegating straight to the reminder engine (§6.2).
type ReminderAdapter struct {
	Deps
	Op        string
	Scheduler *scheduler.Scheduler
}

func NewReminderAdapter(deps Deps, op string, sched *scheduler.Scheduler) *ReminderAdapter {
	return &ReminderAdapter{Deps: deps, Op: op, Scheduler: sched}
}

func (a *ReminderAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if a.Scheduler == nil {
		return configErr("no scheduler is wired for this task")
	}
	workspaceID := "default"
	if pctx != nil && pctx.WorkspaceID != "" {
		workspaceID = pctx.WorkspaceID
	}

	switch a.Op {
	case "set_reminder":
		message := paramString(step.Params, "message", "content")
		if message == "" {
			return fail("set_reminder requires message")
		}
		cronSchedule := paramString(step.Params, "cron", "schedule")
		fireAt := time.Time{}
		if raw := paramString(step.Params, "fire_at", "at"); raw != "" {
			parsed, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return fail("fire_at must be RFC3339: " + err.Error())
			}
			fireAt = parsed
		}
		if cronSchedule == "" && fireAt.IsZero() {
			return fail("set_reminder requires either cron or fire_at")
		}
		id, err := a.Scheduler.CreateReminder(workspaceID, message, cronSchedule, fireAt)
		if err != nil {
			return fail(err.Error())
		}
		return ok("created reminder "+id, map[string]any{"reminder_id": id})

	case "cancel_reminder":
		id := paramString(step.Params, "reminder_id", "id")
		if id == "" {
			return fail("cancel_reminder requires reminder_id")
		}
		if err := a.Scheduler.CancelReminder(id); err != nil {
			return fail(err.Error())
		}
		return ok("cancelled reminder "+id, map[string]any{"reminder_id": id})

	case "list_reminders":
		tasks := a.Scheduler.ListReminders(workspaceID)
		items := make([]map[string]any, 0, len(tasks))
		for _, t := range tasks {
			items = append(items, map[string]any{
				"id":          t.ID,
				"description": t.Description,
				"schedule":    t.Schedule,
				"next_run":    t.NextRun,
			})
		}
		return ok(fmt.Sprintf("found %d reminders", len(items)), map[string]any{"reminders": items})

	default:
		return fail("reminder adapter: unrecognized operation " + a.Op)
	}
}

// HistoryAdapter covers get_task_history/search_history/add_favorite/
// list_favorites/remove_favorite against the structured memory store.
type HistoryAdapter struct {
	Deps
	Op    string
	Store *structuredmemory.Store
}

func NewHistoryAdapter(deps Deps, op string, store *structuredmemory.Store) *HistoryAdapter {
	return &HistoryAdapter{Deps: deps, Op: op, Store: store}
}

func (a *HistoryAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if a.Store == nil {
		return configErr("no structured memory store is wired for this task")
	}
	limit := paramInt(step.Params, "limit", 10)

	switch a.Op {
	case "get_task_history":
		entries, err := a.Store.GetTaskHistory(ctx, limit)
		if err != nil {
			return fail(err.Error())
		}
		return ok(fmt.Sprintf("found %d task history entries", len(entries)), map[string]any{"entries": entries})

	case "search_history":
		query := paramString(step.Params, "query")
		if query == "" {
			return fail("search_history requires query")
		}
		entries, err := a.Store.SearchHistory(ctx, query, limit)
		if err != nil {
			return fail(err.Error())
		}
		return ok(fmt.Sprintf("found %d matching entries", len(entries)), map[string]any{"entries": entries})

	case "add_favorite":
		label := paramString(step.Params, "label", "name")
		target := paramString(step.Params, "target", "value")
		kind := paramString(step.Params, "kind", "type")
		if label == "" || target == "" {
			return fail("add_favorite requires label and target")
		}
		id, err := a.Store.AddFavorite(ctx, label, target, kind)
		if err != nil {
			return fail(err.Error())
		}
		return ok("added favorite "+label, map[string]any{"favorite_id": id})

	case "list_favorites":
		favorites, err := a.Store.ListFavorites(ctx)
		if err != nil {
			return fail(err.Error())
		}
		return ok(fmt.Sprintf("found %d favorites", len(favorites)), map[string]any{"favorites": favorites})

	case "remove_favorite":
		id := paramString(step.Params, "favorite_id", "id")
		if id == "" {
			return fail("remove_favorite requires favorite_id")
		}
		if err := a.Store.RemoveFavorite(ctx, id); err != nil {
			return fail(err.Error())
		}
		return ok("removed favorite "+id, map[string]any{"favorite_id": id})

	default:
		return fail("history adapter: unrecognized operation " + a.Op)
	}
}

// WorkflowTemplateAdapter covers create_workflow/list_workflows/
// delete_workflow, the skill-style step-bundle supplement.
type WorkflowTemplateAdapter struct {
	Deps
	Op    string
	Store *workflow.Store
}

func NewWorkflowTemplateAdapter(deps Deps, op string, store *workflow.Store) *WorkflowTemplateAdapter {
	return &WorkflowTemplateAdapter{Deps: deps, Op: op, Store: store}
}

func (a *WorkflowTemplateAdapter) Execute(ctx context.Context, step plan.Step, pctx *plan.Context) plan.StepResult {
	if a.Store == nil {
		return configErr("no workflow template store is wired for this task")
	}

	switch a.Op {
	case "create_workflow":
		name := paramString(step.Params, "name")
		if name == "" {
			return fail("create_workflow requires name")
		}
		description := paramString(step.Params, "description")
		steps := decodeSteps(step.Params["steps"])
		if len(steps) == 0 {
			return fail("create_workflow requires a non-empty steps list")
		}
		if err := a.Store.Save(workflow.Workflow{Name: name, Description: description, Steps: steps}); err != nil {
			return fail(err.Error())
		}
		return ok("created workflow "+name, map[string]any{"name": name, "step_count": len(steps)})

	case "list_workflows":
		workflows, err := a.Store.List()
		if err != nil {
			return fail(err.Error())
		}
		names := make([]string, 0, len(workflows))
		for _, wf := range workflows {
			names = append(names, wf.Name)
		}
		return ok(fmt.Sprintf("found %d workflows", len(names)), map[string]any{"workflows": names})

	case "delete_workflow":
		name := paramString(step.Params, "name")
		if name == "" {
			return fail("delete_workflow requires name")
		}
		if err := a.Store.Delete(name); err != nil {
			return fail(err.Error())
		}
		return ok("deleted workflow "+name, map[string]any{"name": name})

	default:
		return fail("workflow adapter: unrecognized operation " + a.Op)
	}
}

func decodeSteps(raw any) []plan.Step {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	steps := make([]plan.Step, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		s := plan.Step{Params: map[string]any{}}
		if t, ok := m["type"].(string); ok {
			s.Type = t
		}
		if act, ok := m["action"].(string); ok {
			s.Action = act
		}
		if desc, ok := m["description"].(string); ok {
			s.Description = desc
		}
		if params, ok := m["params"].(map[string]any); ok {
			s.Params = params
		}
		steps = append(steps, s)
	}
	return steps
}
