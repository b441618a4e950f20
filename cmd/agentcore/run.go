package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/avandras/agentcore/internal/agent"
	"github.com/avandras/agentcore/internal/budget"
	"github.com/avandras/agentcore/internal/config"
	"github.com/avandras/agentcore/internal/coordinator"
	"github.com/avandras/agentcore/internal/dedup"
	"github.com/avandras/agentcore/internal/dispatch"
	"github.com/avandras/agentcore/internal/logging"
	"github.com/avandras/agentcore/internal/pipeline"
	"github.com/avandras/agentcore/internal/scheduler"
	"github.com/avandras/agentcore/internal/shutdown"
	"github.com/avandras/agentcore/pkg/models"
)

var (
	runConfigPath string
	runMode       string
	runStrategy   string
	runParallel   int
	runBudget     float64
	runPreset     string
	runJSON       bool
	runAuditTail  int
)

var runCmd = &cobra.Command{
	Use:   "run <tasks.yaml>",
	Short: "Execute a task list with parallel agents",
	Long: `Execute a YAML task list through parallel agents.

Tasks declare dependencies by ID; the scheduler resolves execution order
and runs independent tasks concurrently up to the parallelism cap. Every
agent runs under a permission preset and a budget cap, and every tool
call it attempts is authorized before executing.

Execution modes (--mode):
  dag     Dependency-graph scheduler (default). Cyclic input is an error.
  waves   Wave-based coordinator. Unsatisfiable remainders run best-effort
          in one final wave, and agents share mined findings via prompts.

Failure strategies (--failure-strategy, dag mode only):
  continue   Skip only dependents of a failed task (default)
  fail-fast  Stop launching new tasks after the first failure

Examples:
  agentcore run tasks.yaml
  agentcore run tasks.yaml --mode waves --parallel 8
  agentcore run tasks.yaml --failure-strategy fail-fast --budget 5.0`,
	Args: cobra.ExactArgs(1),
	RunE: runTasks,
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "Path to a config file (overrides discovery)")
	runCmd.Flags().StringVar(&runMode, "mode", "dag", "Execution mode: dag or waves")
	runCmd.Flags().StringVar(&runStrategy, "failure-strategy", "", "Failure strategy: continue or fail-fast")
	runCmd.Flags().IntVar(&runParallel, "parallel", 0, "Max concurrently running agents")
	runCmd.Flags().Float64Var(&runBudget, "budget", 0, "Global budget cap in dollars (0 = config value)")
	runCmd.Flags().StringVar(&runPreset, "preset", "", "Default permission preset: restricted, standard, or trusted")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Output the result as JSON")
	runCmd.Flags().IntVar(&runAuditTail, "audit-tail", 0, "Print the last N audit entries after the run")
}

func runTasks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyFlags(cfg)

	tasks, err := config.LoadTaskFile(args[0])
	if err != nil {
		return err
	}

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("get working directory: %w", err)
	}

	logger := logging.NewDebugLoggerForDir(workDir)
	defer logger.Close()

	ledger := budget.NewLedger(cfg.Budget.MaxBudget)
	if cfg.Budget.WarningThreshold > 0 {
		ledger.SetWarningThreshold(cfg.Budget.WarningThreshold)
	}

	pipe, err := pipeline.New(
		pipeline.NewPresetResolver(cfg.PresetOverrides()),
		ledger,
		pipeline.WithLogger(logger),
		pipeline.WithDefaultModel(cfg.Anthropic.Model),
	)
	if err != nil {
		return err
	}

	executor, err := agent.NewAnthropicExecutor(agent.ClientConfig{
		Model:         anthropicModel(cfg),
		APIKey:        cfg.Anthropic.APIKey,
		UseAWSBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:     cfg.Anthropic.AWSRegion,
		AWSProfile:    cfg.Anthropic.AWSProfile,
	}, logger)
	if err != nil {
		return err
	}

	cache := dedup.NewCache(
		dedup.WithTTL(cfg.Dedup.TTL),
		dedup.WithCapacity(cfg.Dedup.Capacity),
		dedup.WithLogger(logger),
	)
	protocol := shutdown.NewProtocol(
		shutdown.WithGracePeriod(cfg.Shutdown.GracePeriod),
		shutdown.WithFlushTimeout(cfg.Shutdown.FlushTimeout),
		shutdown.WithLogger(logger),
	)

	dispatcher, err := dispatch.New(executor, pipe, cache, protocol,
		dispatch.WithLogger(logger),
		dispatch.WithWorkingDir(workDir),
		dispatch.WithDefaultTimeout(cfg.Execution.TaskTimeout),
		dispatch.WithDefaultPreset(pipeline.Preset(cfg.Execution.Preset)),
		dispatch.WithDefaultMaxIterations(cfg.Execution.MaxIterations),
	)
	if err != nil {
		return err
	}

	coord, err := coordinator.New(dispatcher,
		coordinator.WithLogger(logger),
		coordinator.WithMaxParallelTasks(cfg.Execution.MaxParallelTasks),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *models.ParallelExecutionResult
	switch runMode {
	case "dag":
		result, err = coord.ExecuteWithDAG(ctx, tasks,
			scheduler.FailureStrategy(cfg.Execution.FailureStrategy))
	case "waves":
		result, err = coord.ExecuteParallel(ctx, tasks)
	default:
		return fmt.Errorf("unknown mode %q (want dag or waves)", runMode)
	}
	if err != nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printSummary(result, ledger)
	}

	if runAuditTail > 0 {
		printAuditTail(pipe, runAuditTail)
	}

	if !result.Success {
		os.Exit(1)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	if runConfigPath != "" {
		return config.LoadFromPath(runConfigPath)
	}
	return config.Load()
}

// applyFlags overlays command-line flags onto the loaded config.
func applyFlags(cfg *config.Config) {
	if runParallel > 0 {
		cfg.Execution.MaxParallelTasks = runParallel
	}
	if runStrategy != "" {
		cfg.Execution.FailureStrategy = runStrategy
	}
	if runBudget > 0 {
		cfg.Budget.MaxBudget = runBudget
	}
	if runPreset != "" {
		cfg.Execution.Preset = runPreset
	}
}

func anthropicModel(cfg *config.Config) string {
	if cfg.Anthropic.Model != "" {
		return cfg.Anthropic.Model
	}
	return budget.DefaultModel
}

func printSummary(result *models.ParallelExecutionResult, ledger *budget.Ledger) {
	fmt.Println()
	if result.Success {
		fmt.Printf("%s All tasks completed\n", color.GreenString("✓"))
	} else {
		fmt.Printf("%s Run finished with failures\n", color.RedString("✗"))
	}
	fmt.Printf("  Tasks: %d  Parallelism: %d  Duration: %s  Spent: $%.4f\n",
		len(result.Results), result.Parallelism,
		result.TotalDuration.Round(time.Millisecond), ledger.Spent())

	for _, res := range result.Results {
		mark := color.GreenString("✓")
		detail := res.Output
		if !res.Success {
			mark = color.RedString("✗")
			detail = res.Error
		}
		if res.CacheHit {
			mark = color.CyanString("≡")
		}
		if len(detail) > 100 {
			detail = detail[:100] + "..."
		}
		fmt.Printf("  %s %-16s [%s] %s\n", mark, res.TaskID, res.Role, detail)
	}

	if len(result.Errors) > 0 {
		fmt.Printf("\n%s\n", color.YellowString("Failures:"))
		for _, e := range result.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
}

func printAuditTail(pipe *pipeline.Pipeline, n int) {
	entries := pipe.GetRecentAuditEntries(n)
	if len(entries) == 0 {
		return
	}

	fmt.Printf("\nAudit trail (last %d):\n", len(entries))
	for _, entry := range entries {
		line := fmt.Sprintf("  %s  %-17s %s",
			entry.Timestamp.Format("15:04:05.000"), entry.Action, entry.AgentName)
		if entry.Details != "" {
			line += "  " + entry.Details
		}
		if entry.Cost > 0 {
			line += fmt.Sprintf("  ($%.4f)", entry.Cost)
		}
		fmt.Println(line)
	}
}
