package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/arko05roy/swarm/internal/composer"
	"github.com/arko05roy/swarm/internal/config"
)

func newWorkflowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workflow",
		Short: "Run multi-agent workflows defined in YAML",
		Long: `A workflow file lists steps executed in order. Each step's input may
reference the previous step's output with "$prev" or "$prev.field.path".

  name: price-report
  steps:
    - agent: crypto-price-core
      input: {coin: bitcoin}
    - agent: echo-core
      input: {price: $prev.price}

Files are looked up as given, then under ~/.swarm/workflows.`,
	}

	cmd.AddCommand(newWorkflowRunCmd())
	cmd.AddCommand(newWorkflowValidateCmd())
	cmd.AddCommand(newWorkflowEstimateCmd())

	return cmd
}

func newWorkflowRunCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "run <file>",
		Short: "Execute a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				c := composer.New(def, rt.registry, rt.log, composer.WithRunner(rt.engine))
				if err := c.Validate().Err(); err != nil {
					return err
				}
				caller := rt.caller()
				if err := rt.limit(ctx, caller.UserID, config.ActionRun); err != nil {
					return err
				}
				res := c.Execute(ctx, in, caller)
				if err := emit(cmd.OutOrStdout(), res, func(w io.Writer) { printWorkflow(w, c.Name(), res) }); err != nil {
					return err
				}
				if !res.Success {
					return fmt.Errorf("workflow failed at step %d: %s", res.FailedStep, res.Error)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON object used as the workflow's global input")

	return cmd
}

func newWorkflowValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check that every step names a registered, active agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				v := composer.New(def, rt.registry, rt.log).Validate()
				if err := emit(cmd.OutOrStdout(), v, func(w io.Writer) {
					if v.Valid {
						fmt.Fprintln(w, "workflow ok")
					}
					for _, e := range v.Errors {
						fmt.Fprintf(w, "  - %s\n", e)
					}
				}); err != nil {
					return err
				}
				return v.Err()
			})
		},
	}
}

func newWorkflowEstimateCmd() *cobra.Command {
	var input string

	cmd := &cobra.Command{
		Use:   "estimate <file>",
		Short: "Estimate what a workflow run would cost",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := loadWorkflow(args[0])
			if err != nil {
				return err
			}
			in, err := parseInput(input)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(_ context.Context, rt *runtime) error {
				c := composer.New(def, rt.registry, rt.log)
				sum := c.Summary()
				sum.EstimatedCost = c.EstimateCost(in)
				return emit(cmd.OutOrStdout(), sum, func(w io.Writer) {
					fmt.Fprintf(w, "%s: %d step(s), estimated cost %s\n", sum.Name, sum.Steps, money(sum.EstimatedCost))
				})
			})
		},
	}

	cmd.Flags().StringVarP(&input, "input", "i", "", "JSON object used as the workflow's global input")

	return cmd
}

// loadWorkflow reads a workflow definition, falling back to the workflows
// directory for bare names.
func loadWorkflow(name string) (composer.Definition, error) {
	var def composer.Definition

	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) && !filepath.IsAbs(name) {
		data, err = os.ReadFile(filepath.Join(paths.Workflows, name))
	}
	if err != nil {
		return def, err
	}

	if err := yaml.Unmarshal(data, &def); err != nil {
		return def, fmt.Errorf("parsing workflow %s: %w", name, err)
	}
	if def.Name == "" {
		def.Name = filepath.Base(name)
	}
	return def, nil
}

func printWorkflow(w io.Writer, name string, res composer.Result) {
	for _, o := range res.Results {
		status := "ok"
		if !o.Success {
			status = "failed: " + o.Error
		}
		fmt.Fprintf(w, "  %d. %-20s %8s  %s\n", o.Step, o.Agent, o.Duration.Round(time.Millisecond), status)
	}
	if !res.Success {
		return
	}
	fmt.Fprintf(w, "%s finished in %s, total cost %s\n", name, res.Duration.Round(time.Millisecond), money(res.TotalCost))
	data, err := json.MarshalIndent(res.Final, "", "  ")
	if err == nil {
		fmt.Fprintln(w, string(data))
	}
}
