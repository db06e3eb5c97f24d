// Package plan holds the task-execution domain model shared by the
// planner, reflector, plan executor, and memory layers: the Step/Plan
// schema the language model is asked to produce, the results each step
// returns, and the records that get written back to memory once a task
// finishes.
package plan

import "context"

// EventFunc streams one progress event out of whatever is driving a
// task (§4.1, §6.1). data is marshaled as the event's "data" field.
type EventFunc func(eventType string, data map[string]any)

// RequestInputFunc blocks until the out-of-band response to an
// interactive request (login, CAPTCHA, QR code) arrives or ctx's
// deadline passes (§4.8's request_input side channel). spec describes
// what's being asked for; the returned map is whatever the user/
// front-end supplied in response.
type RequestInputFunc func(ctx context.Context, requestType string, spec map[string]any) (map[string]any, error)

// Context is the mutable per-task scratch space threaded through every
// step of a plan. Adapters may stash arbitrary additional keys into
// Extra for later steps to pick up.
type Context struct {
	CurrentTime       string            `json:"current_time"`
	MemoryContext     string            `json:"memory_context"`
	FileContextBuffer map[string]string `json:"file_context_buffer"`
	StopFlag          bool              `json:"stop_flag"`
	Extra             map[string]any    `json:"-"`

	// Emit is wired in by whatever drives the plan (cognitive.PlanExecutor
	// and the orchestrator); RequestInput is wired in by the orchestrator
	// when it has an input broker. Either may be nil, so callers check
	// before calling.
	Emit         EventFunc         `json:"-"`
	RequestInput RequestInputFunc  `json:"-"`
	WorkspaceID  string            `json:"workspace_id,omitempty"`
}

// NewContext builds a Context with initialized maps, ready to be
// threaded through a task.
func NewContext(currentTime string) *Context {
	return &Context{
		CurrentTime:       currentTime,
		FileContextBuffer: make(map[string]string),
		Extra:             make(map[string]any),
	}
}

// Get reads an arbitrary key an earlier step may have written.
func (c *Context) Get(key string) (any, bool) {
	if c == nil || c.Extra == nil {
		return nil, false
	}
	v, ok := c.Extra[key]
	return v, ok
}

// Set records a key for later steps to observe.
func (c *Context) Set(key string, value any) {
	if c.Extra == nil {
		c.Extra = make(map[string]any)
	}
	c.Extra[key] = value
}

// Step is a single unit of work in a Plan. type/action are mandatory;
// params is always a non-nil map, even when empty.
type Step struct {
	Type        string         `json:"type"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description,omitempty"`
}

// Plan is a finite ordered sequence of Steps. An empty Plan is legal and
// means "nothing to do"; planner failure is represented as an error
// returned alongside a nil Plan, never as an empty one.
type Plan []Step

// StepResult is what an adapter hands back after executing one Step.
// Data may be nil; every caller must tolerate that.
type StepResult struct {
	Success           bool           `json:"success"`
	Message           string         `json:"message"`
	Data              map[string]any `json:"data,omitempty"`
	Error             string         `json:"error,omitempty"`
	Images            []string       `json:"images,omitempty"`
	InstalledPackages []string       `json:"installed_packages,omitempty"`
	ExecutionTime     float64        `json:"execution_time,omitempty"`
}

// IsConfigError reports whether the step failed for a reason the
// reflector must not attempt to paper over (data.is_config_error).
func (r StepResult) IsConfigError() bool {
	return boolField(r.Data, "is_config_error")
}

// RequiresUserAction reports whether the failure can only be resolved
// by the user, short-circuiting the retry/reflection loop.
func (r StepResult) RequiresUserAction() bool {
	return boolField(r.Data, "requires_user_action")
}

func boolField(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	v, ok := data[key]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// ReflectionVerdict is the reflector's opinion on a failed Step.
// Invariant: IsRetryable true implies ModifiedStep is non-nil and
// fully-formed; otherwise ModifiedStep must be nil.
type ReflectionVerdict struct {
	IsRetryable  bool   `json:"is_retryable"`
	ModifiedStep *Step  `json:"modified_step"`
	Reason       string `json:"reason"`
}

// StepOutcome pairs an executed Step with the result it produced, for
// inclusion in a TaskResult's step list.
type StepOutcome struct {
	Index  int        `json:"step_index"`
	Step   Step       `json:"step"`
	Result StepResult `json:"result"`
}

// TaskResult is the terminal payload of execute_plan / the orchestrator,
// and becomes the data field of the service loop's "result" event.
type TaskResult struct {
	Success          bool          `json:"success"`
	Message          string        `json:"message"`
	Duration         float64       `json:"duration"`
	Mode             string        `json:"mode,omitempty"`
	Steps            []StepOutcome `json:"steps,omitempty"`
	UserInstruction  string        `json:"user_instruction"`
	Fallback         bool          `json:"fallback,omitempty"`
}

// TaskRecord is the structured-memory record created exactly once per
// completed task, success or failure, and never mutated afterward.
type TaskRecord struct {
	ID            string   `json:"id"`
	Instruction   string   `json:"instruction"`
	Steps         []Step   `json:"steps"`
	Success       bool     `json:"success"`
	DurationS     float64  `json:"duration_s"`
	FilesInvolved []string `json:"files_involved"`
	CreatedAt     string   `json:"created_at"`
}

// CompactStep retains only the fields safe to embed in a vector-memory
// record: well-formed, bounded, never carrying arbitrary params.
type CompactStep struct {
	Type        string `json:"type"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

// InstructionPatternVector is a vector-memory record of a past
// instruction and how it was executed.
type InstructionPatternVector struct {
	ID             string        `json:"id"`
	InstructionText string       `json:"instruction_text"`
	CompactSteps   []CompactStep `json:"compact_steps"`
	Success        bool          `json:"success"`
	DurationS      float64       `json:"duration_s"`
	Files          []string      `json:"files"`
	Timestamp      string        `json:"timestamp"`
	Embedding      []float32     `json:"-"`
}

// ConversationVector is a vector-memory record of one turn of
// conversational exchange.
type ConversationVector struct {
	ID              string    `json:"id"`
	UserMessage     string    `json:"user_message"`
	ResponsePreview string    `json:"response_preview"`
	SessionID       string    `json:"session_id"`
	Emotion         string    `json:"emotion,omitempty"`
	Success         bool      `json:"success"`
	Timestamp       string    `json:"timestamp"`
	Embedding       []float32 `json:"-"`
}

// IntentMatch is what the intent router returns on a hit.
type IntentMatch struct {
	IntentType string         `json:"intent_type"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata"`
	IsFastPath bool           `json:"is_fast_path"`
}

func CompactSteps(steps []Step) []CompactStep {
	out := make([]CompactStep, 0, len(steps))
	for _, s := range steps {
		out = append(out, CompactStep{Type: s.Type, Action: s.Action, Description: s.Description})
	}
	return out
}
