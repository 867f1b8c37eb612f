package engine

import (
	"context"
	"fmt"
	"maps"

	"github.com/arko05roy/swarm/internal/agent"
)

// Step is one step of a plain sequential workflow.
type Step struct {
	AgentID           string         `json:"agentId" yaml:"agentId"`
	Input             map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	UsePreviousResult bool           `json:"usePreviousResult,omitempty" yaml:"usePreviousResult,omitempty"`
	Options           Options        `json:"options" yaml:"-"`
}

// StepResult pairs a 1-based step number with its result.
type StepResult struct {
	Step    int          `json:"step"`
	AgentID string       `json:"agentId"`
	Result  agent.Result `json:"result"`
}

// WorkflowResult is the outcome of ExecuteWorkflow. FailedStep is 1-based
// and zero on success.
type WorkflowResult struct {
	Success    bool         `json:"success"`
	Error      string       `json:"error,omitempty"`
	FailedStep int          `json:"failedStep,omitempty"`
	Results    []StepResult `json:"results"`
	Final      any          `json:"final,omitempty"`
}

// ExecuteWorkflow runs steps strictly in order. A step that opts in gets
// the previous object output merged over its declared input; the first
// step merges the workflow input instead. The first failure stops the
// workflow; completed steps are not rolled back.
func (e *Engine) ExecuteWorkflow(ctx context.Context, steps []Step, input map[string]any, caller agent.Caller) WorkflowResult {
	results := make([]StepResult, 0, len(steps))
	// The workflow input seeds the first step that opts in.
	var previous any = input

	for i, step := range steps {
		stepInput := maps.Clone(step.Input)
		if stepInput == nil {
			stepInput = map[string]any{}
		}
		if prev, ok := previous.(map[string]any); ok && step.UsePreviousResult {
			maps.Copy(stepInput, prev)
		}

		res := e.Execute(ctx, step.AgentID, stepInput, caller, step.Options)
		results = append(results, StepResult{Step: i + 1, AgentID: step.AgentID, Result: res})

		if !res.Success {
			e.log.Info().Str("agent", step.AgentID).Int("step", i+1).Str("error", res.Error).Msg("workflow stopped")
			return WorkflowResult{
				Success:    false,
				Error:      fmt.Sprintf("workflow failed at step %d: %s", i+1, res.Error),
				FailedStep: i + 1,
				Results:    results,
			}
		}
		previous = res.Data
	}

	return WorkflowResult{Success: true, Results: results, Final: previous}
}
