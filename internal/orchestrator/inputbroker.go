package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/harunnryd/heike/internal/cognitive"
	"github.com/harunnryd/heike/internal/config"
	"github.com/harunnryd/heike/internal/plan"
)

// InputBroker implements §4.8's request_input side channel: a step
// blocks on the returned plan.RequestInputFunc, which emits a
// request_input event carrying a unique request ID, then polls a
// well-known response file the front end is expected to write once the
// user answers, emitting waiting_for_input heartbeats in between.
type InputBroker struct {
	ResponseDir     string
	DefaultTimeout  time.Duration
	PollInterval    time.Duration
	HeartbeatPeriod time.Duration
}

// NewInputBroker resolves orchestrator.user_input_timeout (§4.8's
// default of 600s applies when unset or invalid).
func NewInputBroker(responseDir string, cfg config.OrchestratorConfig) *InputBroker {
	timeout, err := config.DurationOrDefault(cfg.UserInputTimeout, config.DefaultOrchestratorUserInputTimeout)
	if err != nil {
		timeout = 600 * time.Second
	}
	return &InputBroker{
		ResponseDir:     responseDir,
		DefaultTimeout:  timeout,
		PollInterval:    500 * time.Millisecond,
		HeartbeatPeriod: 5 * time.Second,
	}
}

// Request binds emit to a plan.RequestInputFunc the executor can hand
// to a Step's Context: one broker instance is shared across the
// process, but each task gets its own emit-bound closure since that's
// the only per-task state the side channel needs.
func (b *InputBroker) Request(emit cognitive.EventEmitter) plan.RequestInputFunc {
	if emit == nil {
		emit = cognitive.NoopEmitter
	}
	return func(ctx context.Context, requestType string, spec map[string]any) (map[string]any, error) {
		requestID := ulid.Make().String()
		if err := os.MkdirAll(b.ResponseDir, 0o755); err != nil {
			return nil, fmt.Errorf("request_input: prepare response dir: %w", err)
		}
		responsePath := filepath.Join(b.ResponseDir, requestID+".json")

		payload := map[string]any{"request_id": requestID, "request_type": requestType, "spec": spec}
		emit("request_input", payload)

		deadline := time.Now().Add(b.DefaultTimeout)
		lastHeartbeat := time.Now()

		for {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			if values, found, err := readResponse(responsePath); err != nil {
				return nil, err
			} else if found {
				os.Remove(responsePath)
				return values, nil
			}

			if time.Now().After(deadline) {
				return nil, nil
			}
			if time.Since(lastHeartbeat) >= b.HeartbeatPeriod {
				emit("waiting_for_input", map[string]any{"request_id": requestID, "request_type": requestType})
				lastHeartbeat = time.Now()
			}

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(b.PollInterval):
			}
		}
	}
}

// readResponse reads and parses the response file a front end writes
// once the user answers a request_input prompt. A flock read-guard
// avoids reading a response file mid-write, mirroring the advisory
// file locking this module's store package uses for the workspace
// lock.
func readResponse(path string) (map[string]any, bool, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryRLock()
	if err == nil && locked {
		defer lock.Unlock()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, nil
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, false, fmt.Errorf("request_input: malformed response %s: %w", path, err)
	}
	return values, true, nil
}
