package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/conductor/internal/orchestrator"
)

var (
	runClaude  bool
	outputJSON bool
)

func init() {
	planCmd.Flags().BoolVar(&outputJSON, "json", false, "Output the plan as JSON")
	runCmd.Flags().BoolVar(&outputJSON, "json", false, "Output the result as JSON")
	runCmd.Flags().BoolVar(&runClaude, "claude", false, "use Anthropic-backed agents instead of echo agents")
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(runCmd)
}

var planCmd = &cobra.Command{
	Use:   "plan <goal>",
	Short: "Show the agent plan for a goal",
	Long: `Show which agents a goal selects, their dependencies and run order.

Examples:
  conductor plan "research the outage and review the fix"
  conductor plan --json "deploy billing"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		goal := strings.Join(args, " ")
		o, err := orchestrator.New(orchestrator.EchoAgents())
		if err != nil {
			return err
		}
		plan, err := o.CreatePlan(cmd.Context(), scopeID, goal)
		if err != nil {
			return err
		}
		if outputJSON {
			return writeJSON(cmd.OutOrStdout(), plan)
		}
		printPlan(cmd.OutOrStdout(), plan)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run <goal>",
	Short: "Plan and orchestrate a goal once",
	Long: `Plan a goal and run it through the agents, using the configured memory
store for context and write-back. Echo agents are used unless --claude is set.

Examples:
  conductor run "research the outage and review the fix"
  conductor run --scope billing --json "analyze last week's deploys"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := newLogger(cfg)
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		defer func() { _ = logger.Sync() }()

		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, logger, appOptions{claude: runClaude})
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer a.Close()

		res, err := a.orchestrator.Run(ctx, scopeID, strings.Join(args, " "))
		if err != nil {
			return err
		}
		if outputJSON {
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
		} else {
			printResult(cmd.OutOrStdout(), res)
		}
		if !res.Success {
			return fmt.Errorf("run %s did not succeed", res.RunID)
		}
		return nil
	},
}

func printPlan(w io.Writer, plan []orchestrator.PlanStep) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "AGENT\tPRIORITY\tDEPENDS ON\tTOOLS")
	for _, s := range plan {
		deps := make([]string, 0, len(s.Dependencies))
		for _, d := range s.Dependencies {
			deps = append(deps, string(d))
		}
		tools := make([]string, 0, len(s.ToolCalls))
		for _, c := range s.ToolCalls {
			tools = append(tools, c.Name)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", s.Agent, s.Priority, orDash(deps), orDash(tools))
	}
	_ = tw.Flush()
}

func printResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "run %s (scope %s) in %s\n", res.RunID, res.ScopeID, res.Duration)
	for _, e := range res.Executions {
		fmt.Fprintf(w, "  ✓ %s: %v\n", e.Agent, e.Response.Output)
	}
	for _, e := range res.Errors {
		fmt.Fprintf(w, "  ✗ %s: %s\n", e.Agent, e.Error)
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(w, "  - %s skipped: %s\n", s.Agent, s.Reason)
	}
	if len(res.ToolsUsed) > 0 {
		fmt.Fprintf(w, "  tools: %d call(s)\n", len(res.ToolsUsed))
	}
}

func orDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readInput reads a file path, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
