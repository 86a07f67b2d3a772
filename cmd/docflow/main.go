package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/fatih/color"

	"github.com/docflow-ai/docflow"
	"github.com/docflow-ai/docflow/agents"
	"github.com/docflow-ai/docflow/provider"
	"github.com/docflow-ai/docflow/provider/anthropic"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runCommand(os.Args[2:])
	case "resume":
		resumeCommand(os.Args[2:])
	case "list":
		listCommand(os.Args[2:])
	case "history":
		historyCommand(os.Args[2:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `docflow - document processing pipeline

Usage: %s <command> [options]

Commands:
  run      Process a document through the pipeline
  resume   Resume an interrupted workflow from its last checkpoint
  list     List checkpointed workflows
  history  Show the checkpoint history of a workflow

Run '%s <command> -h' for command options.
`, os.Args[0], os.Args[0])
}

type commonFlags struct {
	configPath    string
	checkpointDir string
	logsDir       string
	verbose       bool
}

func addCommonFlags(fs *flag.FlagSet, flags *commonFlags) {
	fs.StringVar(&flags.configPath, "config", "", "Path to YAML configuration file")
	fs.StringVar(&flags.checkpointDir, "checkpoints", "", "Directory for checkpoint storage")
	fs.StringVar(&flags.logsDir, "logs", "", "Directory for stage audit logs")
	fs.BoolVar(&flags.verbose, "v", false, "Enable verbose logging")
}

func runCommand(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	var flags commonFlags
	addCommonFlags(fs, &flags)
	jobFile := fs.String("job", "", "Path to a JSON job file (required)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Workflow timeout")
	providerName := fs.String("provider", "static", "Model provider: static or anthropic")
	shadowRun := fs.Bool("shadow", false, "Run the treatment variant in shadow mode and print the comparison")
	rolloutPercent := fs.Int("rollout-percent", 0, "Percentage of users assigned to the treatment variant")
	fs.Parse(args)

	if *jobFile == "" {
		color.Red("Error: -job is required")
		fs.Usage()
		os.Exit(1)
	}

	data, err := os.ReadFile(*jobFile)
	if err != nil {
		log.Fatalf("Failed to read job file: %v", err)
	}
	var job docflow.Job
	if err := json.Unmarshal(data, &job); err != nil {
		log.Fatalf("Failed to parse job file: %v", err)
	}

	variant := docflow.VariantControl
	if *rolloutPercent > 0 {
		rollout, err := docflow.NewRolloutController(docflow.RolloutOptions{Percentage: *rolloutPercent})
		if err != nil {
			log.Fatalf("Invalid rollout percentage: %v", err)
		}
		variant = rollout.AssignVariant(job.UserID)
		color.Blue("Rollout: %d%% treatment, user %s assigned to %s", *rolloutPercent, job.UserID, variant)
	}
	engine := buildEngine(&flags, *providerName, variant)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	color.Green("Starting workflow for document %s...", job.DocumentRef)
	startTime := time.Now()
	result, err := engine.Run(ctx, &job)
	duration := time.Since(startTime)
	if err == nil && *shadowRun {
		runShadow(&flags, *providerName, &job, result)
	}
	showResult(result, err, duration)
}

// runShadow executes the treatment variant against the same job and prints the
// recorded comparison. The shadow checkpoints under its own namespace, so it
// never touches the primary workflow's resume path.
func runShadow(flags *commonFlags, providerName string, job *docflow.Job, result *docflow.Result) {
	recorder := docflow.NewMemoryComparisonRecorder()
	comparator, err := docflow.NewShadowComparator(docflow.ShadowOptions{
		Shadow:   buildEngine(flags, providerName, docflow.VariantTreatment),
		Recorder: recorder,
	})
	if err != nil {
		log.Fatalf("Failed to create shadow comparator: %v", err)
	}

	color.Blue("Running treatment variant in shadow...")
	comparator.CompareAsync(job, result)
	comparator.Wait()

	for _, record := range recorder.Records() {
		color.White("Shadow %s: status=%s confidence_delta=%+.3f field_match=%.2f latency_delta=%v",
			record.ID, record.ShadowStatus, record.ConfidenceDelta,
			record.FieldMatchRate, record.LatencyDelta)
		if record.ShadowError != "" {
			color.Yellow("Shadow error: %s", record.ShadowError)
		}
	}
}

func resumeCommand(args []string) {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	var flags commonFlags
	addCommonFlags(fs, &flags)
	correlationID := fs.String("id", "", "Correlation id of the workflow to resume (required)")
	timeout := fs.Duration("timeout", 5*time.Minute, "Workflow timeout")
	providerName := fs.String("provider", "static", "Model provider: static or anthropic")
	fs.Parse(args)

	if *correlationID == "" {
		color.Red("Error: -id is required")
		fs.Usage()
		os.Exit(1)
	}

	engine := buildEngine(&flags, *providerName, docflow.VariantControl)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	color.Green("Resuming workflow %s...", *correlationID)
	startTime := time.Now()
	result, err := engine.Run(ctx, &docflow.Job{
		CorrelationID: *correlationID,
		UserID:        "cli",
		DocumentRef:   "resume",
		Resume:        true,
	})
	showResult(result, err, time.Since(startTime))
}

func listCommand(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	var flags commonFlags
	addCommonFlags(fs, &flags)
	fs.Parse(args)

	store := newCheckpointStore(&flags)
	summaries, err := store.ListWorkflows(context.Background())
	if err != nil {
		log.Fatalf("Failed to list workflows: %v", err)
	}
	if len(summaries) == 0 {
		color.Blue("No checkpointed workflows")
		return
	}
	for _, summary := range summaries {
		fmt.Printf("%s  %-16s %-14s %s\n",
			summary.CorrelationID,
			summary.Status,
			summary.CurrentStage,
			summary.StartTime.Format(time.RFC3339))
	}
}

func historyCommand(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	var flags commonFlags
	addCommonFlags(fs, &flags)
	correlationID := fs.String("id", "", "Correlation id (required)")
	fs.Parse(args)

	if *correlationID == "" {
		color.Red("Error: -id is required")
		fs.Usage()
		os.Exit(1)
	}

	store := newCheckpointStore(&flags)
	history, err := store.LoadHistory(context.Background(), *correlationID)
	if err != nil {
		log.Fatalf("Failed to load history: %v", err)
	}
	for _, checkpoint := range history {
		fmt.Printf("#%03d  %-16s %-14s %s\n",
			checkpoint.Sequence,
			checkpoint.Stage,
			checkpoint.Reason,
			checkpoint.CreatedAt.Format(time.RFC3339))
	}
}

func loadConfig(flags *commonFlags) *docflow.Config {
	if flags.configPath == "" {
		return docflow.DefaultConfig()
	}
	config, err := docflow.LoadConfig(flags.configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	return config
}

func newCheckpointStore(flags *commonFlags) *docflow.FileCheckpointStore {
	store, err := docflow.NewFileCheckpointStore(flags.checkpointDir)
	if err != nil {
		log.Fatalf("Failed to create checkpoint store: %v", err)
	}
	return store
}

func buildEngine(flags *commonFlags, providerName string, variant docflow.Variant) *docflow.Engine {
	config := loadConfig(flags)
	logger := setupLogger(flags.verbose)

	var modelProvider provider.Provider
	switch providerName {
	case "anthropic":
		modelProvider = provider.WithRetry(anthropic.New(anthropic.Options{}), provider.RetryOptions{})
	default:
		modelProvider = provider.NewStaticProvider("static",
			`{"document_type": "other", "confidence": 0.5, "fields": [], "reasoning": "static provider"}`)
	}

	registry, err := agents.NewRegistry(agents.RegistryOptions{
		Provider:        modelProvider,
		ValidationRules: config.ValidationRules,
		Logger:          logger,
	})
	if err != nil {
		log.Fatalf("Failed to build agents: %v", err)
	}

	var stageLogger docflow.StageLogger = docflow.NewNullStageLogger()
	if flags.logsDir != "" {
		stageLogger = docflow.NewFileStageLogger(flags.logsDir)
		color.Blue("Stage logs: %s", flags.logsDir)
	}

	engine, err := docflow.NewEngine(docflow.EngineOptions{
		Agents:              registry,
		Checkpointer:        newCheckpointStore(flags),
		Thresholds:          config.Thresholds,
		Variant:             variant,
		Logger:              logger,
		StageLogger:         stageLogger,
		MaxAttempts:         config.Engine.MaxAttempts,
		MaxRecoveryAttempts: config.Engine.MaxRecoveryAttempts,
		StageTimeout:        config.Engine.StageTimeout,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return docflow.NewLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func showResult(result *docflow.Result, err error, duration time.Duration) {
	color.White("Finished in %v", duration)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}

	color.White("Status: %s", result.Status)
	color.White("Overall confidence: %.3f", result.OverallConfidence)
	switch result.Status {
	case docflow.WorkflowStatusCompleted:
		if result.ReviewRequired {
			color.Yellow("Completed, flagged for manual review")
		} else {
			color.Green("Completed")
		}
	case docflow.WorkflowStatusReviewRequired:
		color.Yellow("Parked for manual review")
	case docflow.WorkflowStatusFailed:
		color.Red("Failed at %s: %s", result.FailedStage, result.ErrorMessage)
		os.Exit(1)
	}

	for stage, attempts := range result.StageResults {
		latest := attempts[len(attempts)-1]
		fmt.Printf("  %-16s %-8s confidence=%.3f attempts=%d\n",
			stage, latest.Status, latest.Confidence, len(attempts))
	}
}
