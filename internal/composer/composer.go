// Package composer chains agents into sequential workflows with "$prev"
// substitution between steps and a per-step failure policy.
package composer

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/arko05roy/swarm/internal/agent"
	"github.com/arko05roy/swarm/internal/domain"
	"github.com/arko05roy/swarm/internal/engine"
	"github.com/arko05roy/swarm/internal/logging"
)

// TransformFunc rewrites a step's assembled input before execution.
type TransformFunc func(input map[string]any, prev any, global map[string]any, index int) map[string]any

// Step is one workflow step.
type Step struct {
	Agent           string         `json:"agent" yaml:"agent"`
	Input           map[string]any `json:"input,omitempty" yaml:"input,omitempty"`
	UseGlobalInput  bool           `json:"useGlobalInput,omitempty" yaml:"useGlobalInput,omitempty"`
	ContinueOnError bool           `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
	Fallback        any            `json:"fallback,omitempty" yaml:"fallback,omitempty"`
	Transform       TransformFunc  `json:"-" yaml:"-"`
}

// Definition is the serialisable form of a workflow.
type Definition struct {
	Name  string `json:"name" yaml:"name"`
	Steps []Step `json:"steps" yaml:"steps"`
}

// Resolver looks agents up by id.
type Resolver interface {
	Lookup(id string) (*agent.Agent, error)
}

// Runner executes a resolved step. *engine.Engine satisfies it.
type Runner interface {
	Execute(ctx context.Context, agentID string, input map[string]any, caller agent.Caller, opts engine.Options) agent.Result
}

// StepOutcome is the recorded result of one step. Step is 1-based.
type StepOutcome struct {
	Step     int           `json:"step"`
	Agent    string        `json:"agent"`
	Success  bool          `json:"success"`
	Data     any           `json:"data,omitempty"`
	Error    string        `json:"error,omitempty"`
	Code     domain.Code   `json:"code,omitempty"`
	Cost     float64       `json:"cost"`
	Duration time.Duration `json:"duration"`
}

// Result is the outcome of a workflow run.
type Result struct {
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	FailedStep int           `json:"failedStep,omitempty"`
	Results    []StepOutcome `json:"results"`
	Final      any           `json:"final,omitempty"`
	Duration   time.Duration `json:"duration"`
	TotalCost  float64       `json:"totalCost"`
}

// Validation is the outcome of a pre-flight check.
type Validation struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// Err returns a ValidationFailed error listing every problem, or nil.
func (v Validation) Err() error {
	if v.Valid {
		return nil
	}
	return domain.Errorf(domain.CodeValidationFailed, "invalid workflow: %s", strings.Join(v.Errors, "; "))
}

// Summary describes a workflow.
type Summary struct {
	Name          string   `json:"name"`
	Steps         int      `json:"steps"`
	Agents        []string `json:"agents"`
	EstimatedCost float64  `json:"estimatedCost"`
}

type compiledStep struct {
	Step
	input object
}

func compileStep(s Step) compiledStep {
	return compiledStep{Step: s, input: compileObject(s.Input)}
}

// Composer runs a named sequence of steps.
type Composer struct {
	resolver Resolver
	runner   Runner
	log      *logging.Logger

	mu    sync.RWMutex
	name  string
	steps []compiledStep
}

// Option configures a Composer.
type Option func(*Composer)

// WithRunner routes step execution through r, typically the engine, so
// steps share its ceiling, timeout, history and settlement.
func WithRunner(r Runner) Option {
	return func(c *Composer) { c.runner = r }
}

// New builds a composer for def.
func New(def Definition, r Resolver, log *logging.Logger, opts ...Option) *Composer {
	name := def.Name
	if name == "" {
		name = "Untitled Workflow"
	}
	c := &Composer{
		resolver: r,
		name:     name,
		log:      log.Sub("composer").With("workflow", name),
	}
	for _, s := range def.Steps {
		c.steps = append(c.steps, compileStep(s))
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the workflow name.
func (c *Composer) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Definition returns the workflow's steps in their declared form.
func (c *Composer) Definition() Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def := Definition{Name: c.name, Steps: make([]Step, len(c.steps))}
	for i, s := range c.steps {
		def.Steps[i] = s.Step
	}
	return def
}

// AddStep appends a step.
func (c *Composer) AddStep(s Step) *Composer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, compileStep(s))
	return c
}

// RemoveStep removes the step at the 0-based index. Out of range indexes
// are ignored.
func (c *Composer) RemoveStep(index int) *Composer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= 0 && index < len(c.steps) {
		c.steps = append(c.steps[:index], c.steps[index+1:]...)
	}
	return c
}

func (c *Composer) snapshot() []compiledStep {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]compiledStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// prepareInput assembles a step's input: static input, then global input
// underneath it when requested, then "$prev" substitution, then the
// transform.
func prepareInput(s compiledStep, global map[string]any, prev any, hasPrev bool, index int) map[string]any {
	compiled := s.input
	if s.UseGlobalInput {
		merged := maps.Clone(global)
		if merged == nil {
			merged = map[string]any{}
		}
		maps.Copy(merged, s.Input)
		compiled = compileObject(merged)
	}
	input := compiled.resolve(prev, hasPrev).(map[string]any)
	if s.Transform != nil {
		if out := s.Transform(input, prev, global, index); out != nil {
			input = out
		}
	}
	return input
}

// Execute runs every step in order. Failures are reported in the Result;
// a step with ContinueOnError hands its Fallback to the next step instead
// of stopping the workflow.
func (c *Composer) Execute(ctx context.Context, input map[string]any, caller agent.Caller) Result {
	start := time.Now()
	steps := c.snapshot()
	if caller.Source == "" {
		caller.Source = "workflow"
	}

	c.log.Debug().Int("steps", len(steps)).Msg("workflow started")

	res := Result{Results: make([]StepOutcome, 0, len(steps))}
	var prev any
	hasPrev := false

	for i, s := range steps {
		out := c.executeStep(ctx, s, i, input, prev, hasPrev, caller)
		res.Results = append(res.Results, out)

		if !out.Success {
			c.log.Debug().Int("step", out.Step).Str("agent", s.Agent).Str("error", out.Error).Msg("step failed")
			if s.ContinueOnError {
				prev, hasPrev = s.Fallback, s.Fallback != nil
				continue
			}
			res.Error = fmt.Sprintf("workflow failed at step %d (%s): %s", out.Step, s.Agent, out.Error)
			res.FailedStep = out.Step
			res.Duration = time.Since(start)
			res.TotalCost = totalCost(res.Results)
			c.log.Info().Int("step", out.Step).Str("agent", s.Agent).Msg("workflow failed")
			return res
		}
		prev, hasPrev = out.Data, out.Data != nil
	}

	res.Success = true
	res.Final = prev
	res.Duration = time.Since(start)
	res.TotalCost = totalCost(res.Results)
	c.log.Info().
		Int("steps", len(steps)).
		Dur("duration", res.Duration).
		Float64("totalCost", res.TotalCost).
		Msg("workflow completed")
	return res
}

func (c *Composer) executeStep(ctx context.Context, s compiledStep, index int, global map[string]any, prev any, hasPrev bool, caller agent.Caller) StepOutcome {
	start := time.Now()
	out := StepOutcome{Step: index + 1, Agent: s.Agent}

	fail := func(err error) StepOutcome {
		out.Error = err.Error()
		out.Code = domain.CodeOf(err)
		out.Duration = time.Since(start)
		return out
	}

	a, err := c.resolver.Lookup(s.Agent)
	if err != nil {
		return fail(domain.Errorf(domain.CodeNotFound, "agent %q not found in registry", s.Agent))
	}
	if !a.IsActive() {
		return fail(domain.Errorf(domain.CodeInactive, "agent %q is not active", s.Agent))
	}

	input := prepareInput(s, global, prev, hasPrev, index)
	estimated := a.EstimateCost(input)

	var r agent.Result
	if c.runner != nil {
		r = c.runner.Execute(ctx, s.Agent, input, caller, engine.Options{})
	} else {
		r = a.Execute(ctx, input, caller)
	}
	if !r.Success {
		return fail(r.Err())
	}

	out.Success = true
	out.Data = r.Data
	out.Cost = r.Cost
	if out.Cost == 0 {
		out.Cost = estimated
	}
	out.Duration = time.Since(start)
	return out
}

func totalCost(outcomes []StepOutcome) float64 {
	var sum float64
	for _, o := range outcomes {
		if o.Success {
			sum += o.Cost
		}
	}
	return sum
}

// EstimateCost sums the estimated price of every resolvable step without
// executing anything.
func (c *Composer) EstimateCost(input map[string]any) float64 {
	var total float64
	for i, s := range c.snapshot() {
		a, err := c.resolver.Lookup(s.Agent)
		if err != nil {
			continue
		}
		total += a.EstimateCost(prepareInput(s, input, nil, false, i))
	}
	return total
}

// Validate checks that the workflow is non-empty and every step names a
// registered agent.
func (c *Composer) Validate() Validation {
	steps := c.snapshot()
	var errs []string
	if len(steps) == 0 {
		errs = append(errs, "workflow is empty")
	}
	for i, s := range steps {
		if s.Agent == "" {
			errs = append(errs, fmt.Sprintf("step %d: missing agent name", i+1))
			continue
		}
		if _, err := c.resolver.Lookup(s.Agent); err != nil {
			errs = append(errs, fmt.Sprintf("step %d: agent %q not found", i+1, s.Agent))
		}
	}
	return Validation{Valid: len(errs) == 0, Errors: errs}
}

// Summary describes the workflow and its estimated cost.
func (c *Composer) Summary() Summary {
	steps := c.snapshot()
	agents := make([]string, len(steps))
	for i, s := range steps {
		agents[i] = s.Agent
	}
	return Summary{
		Name:          c.Name(),
		Steps:         len(steps),
		Agents:        agents,
		EstimatedCost: c.EstimateCost(nil),
	}
}
