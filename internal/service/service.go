// Package service implements the line-delimited JSON stdio protocol
// (§4.1, §6.1): one Command per input line, a stream of Events per
// output line, stdout reserved purely for the protocol and every log
// line routed to stderr instead.
package service

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/orchestrator"
)

// Command is one line of input the loop accepts. Context carries the
// optional execute-command hints (§4.1: attached file path, recent
// files, chat history) the orchestrator threads into the task context.
type Command struct {
	Type        string         `json:"cmd"`
	ID          string         `json:"id"`
	Instruction string         `json:"instruction,omitempty"`
	WorkspaceID string         `json:"workspace_id,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
}

// Event is one line of output the loop produces. Data is whatever the
// event type's payload is (§4.1 names the shape per event type).
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Timestamp float64        `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

const (
	cmdExecute  = "execute"
	cmdPing     = "ping"
	cmdShutdown = "shutdown"
)

// Loop reads Commands from In and writes Events to Out, dispatching
// execute commands through the Task Orchestrator. Commands are
// processed strictly sequentially: the loop never starts reading the
// next line until the current command's handling (including its
// terminal event) has been written.
type Loop struct {
	Orchestrator *orchestrator.Orchestrator

	in      *bufio.Scanner
	out     io.Writer
	mu      sync.Mutex // serializes writes to out
	started time.Time
}

func NewLoop(o *orchestrator.Orchestrator, in io.Reader, out io.Writer) *Loop {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	return &Loop{Orchestrator: o, in: scanner, out: out, started: time.Now()}
}

// Run blocks, processing commands until stdin closes, a shutdown
// command arrives, or ctx is cancelled. It always returns nil on a
// clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	l.emit(Event{Type: "ready", Data: map[string]any{"startup_time": time.Since(l.started).Seconds()}})

	for l.in.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := l.in.Bytes()
		if len(line) == 0 {
			continue
		}

		var cmd Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			l.emit(Event{Type: "error", Data: map[string]any{"message": "malformed command: " + err.Error()}})
			continue
		}

		if cmd.Type == cmdShutdown {
			l.emit(Event{Type: "shutdown_ack", ID: cmd.ID})
			return nil
		}

		l.dispatch(ctx, cmd)
	}
	if err := l.in.Err(); err != nil {
		return fmt.Errorf("service loop: read stdin: %w", err)
	}
	return nil
}

func (l *Loop) dispatch(ctx context.Context, cmd Command) {
	switch cmd.Type {
	case cmdPing:
		l.emit(Event{Type: "pong", ID: cmd.ID})
	case cmdExecute:
		l.handleExecute(ctx, cmd)
	default:
		l.emit(Event{Type: "error", ID: cmd.ID, Data: map[string]any{"message": "unrecognized command type: " + cmd.Type}})
	}
}

// handleExecute guarantees §4.1's "exactly one result event per
// execute command" even when the orchestrator panics: the recover
// turns a panic into an error result instead of losing the stdout
// contract (and, by extension, wedging whatever's reading it).
func (l *Loop) handleExecute(ctx context.Context, cmd Command) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("service loop: execute panicked", "recovered", r)
			l.emit(Event{Type: "result", ID: cmd.ID, Data: map[string]any{
				"success": false,
				"message": fmt.Sprintf("internal error: %v", r),
			}})
		}
	}()

	if cmd.Instruction == "" {
		l.emit(Event{Type: "result", ID: cmd.ID, Data: map[string]any{
			"success": false,
			"message": "execute requires a non-empty instruction",
		}})
		return
	}

	emit := func(eventType string, data map[string]any) {
		l.emit(Event{Type: eventType, ID: cmd.ID, Data: data})
	}

	result, err := l.Orchestrator.Run(ctx, cmd.WorkspaceID, cmd.Instruction, cmd.Context, cognitive.EventEmitter(emit))
	if err != nil {
		l.emit(Event{Type: "result", ID: cmd.ID, Data: map[string]any{
			"success": false,
			"message": err.Error(),
		}})
		return
	}

	data, err := taskResultToData(result)
	if err != nil {
		slog.Error("service loop: marshal task result", "error", err)
		data = map[string]any{"success": result.Success, "message": result.Message}
	}
	l.emit(Event{Type: "result", ID: cmd.ID, Data: data})
}

func taskResultToData(result any) (map[string]any, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// emit writes one Event as a single JSON line to Out, holding mu so
// concurrent writers (the orchestrator's emit callback can be invoked
// while other bookkeeping is in flight) never interleave partial
// lines.
func (l *Loop) emit(evt Event) {
	if evt.Timestamp == 0 {
		evt.Timestamp = float64(time.Now().UnixNano()) / 1e9
	}
	raw, err := json.Marshal(evt)
	if err != nil {
		slog.Error("service loop: marshal event", "error", err, "event_type", evt.Type)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out.Write(raw)
	l.out.Write([]byte("\n"))
}
