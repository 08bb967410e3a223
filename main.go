package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mykhaliev/agent-scenario-runner/client"
	"github.com/mykhaliev/agent-scenario-runner/logger"
	"github.com/mykhaliev/agent-scenario-runner/model"
	"github.com/mykhaliev/agent-scenario-runner/report"
	"github.com/mykhaliev/agent-scenario-runner/runner"
	"github.com/mykhaliev/agent-scenario-runner/summary"
	"github.com/mykhaliev/agent-scenario-runner/version"
)

const AppName = "agent-scenario-runner"

// stringList collects a repeatable flag value.
type stringList []string

func (s *stringList) String() string { return fmt.Sprint(*s) }

func (s *stringList) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	scenarioPath := flag.String("f", "", "Path to the scenario file (YAML)")
	agentID := flag.String("agent-id", "", "Agent ID (or SF_AGENT_ID env)")
	myDomain := flag.String("my-domain", "", "My Domain URL (or SF_MY_DOMAIN env)")
	consumerKey := flag.String("consumer-key", "", "Consumer key (or SF_CONSUMER_KEY env)")
	consumerSecret := flag.String("consumer-secret", "", "Consumer secret (or SF_CONSUMER_SECRET env)")
	filter := flag.String("filter", "", "Only run scenarios whose name contains this pattern")
	outputPath := flag.String("o", "", "Path to the JSON results file")
	logPath := flag.String("l", "", "Path to the log file (if not set, logs to stdout)")
	jsonOnly := flag.Bool("json-only", false, "Only output JSON (no terminal report)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	turnRetry := flag.Int("turn-retry", 0, "Retries per turn on transient failures")
	parallel := flag.Int("parallel", 0, "Run scenarios in parallel with N workers (0 = sequential)")
	timeout := flag.Duration("timeout", 0, "Per-request HTTP timeout (capped at 120s)")
	showVersion := flag.Bool("v", false, "Show version and exit")

	var vars stringList
	flag.Var(&vars, "var", "Global variable 'name[:type]=value' (repeatable)")

	flag.Parse()

	if *showVersion {
		fmt.Printf("Version: %s\nCommit: %s\nBuildDate: %s\n",
			version.Version, version.Commit, version.BuildDate)
		return
	}

	logWriter, logFile, err := logger.SetupLogWriter(*logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to setup logging: %v\n", err)
		os.Exit(2)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetupLogger(logWriter, *verbose)

	if *scenarioPath == "" {
		fmt.Fprintf(os.Stderr, "Error: -f <scenario-file> is required\n\n")
		flag.Usage()
		os.Exit(2)
	}
	if err := runner.ValidateScenarioFile(*scenarioPath); err != nil {
		logger.Logger.Error("Invalid scenario file", "error", err)
		os.Exit(2)
	}

	globalVars, err := model.ParseVariables(vars)
	if err != nil {
		logger.Logger.Error("Invalid variable", "error", err)
		os.Exit(2)
	}

	doc, err := model.ParseScenarioDocument(*scenarioPath)
	if err != nil {
		logger.Logger.Error("Failed to parse scenario file", "error", err)
		os.Exit(2)
	}
	if err := runner.ValidateScenarioDocument(doc); err != nil {
		logger.Logger.Error("Invalid scenario document", "error", err)
		os.Exit(2)
	}

	resolvedAgentID := *agentID
	if resolvedAgentID == "" {
		resolvedAgentID = doc.Metadata.AgentID
	}
	if resolvedAgentID == "" {
		resolvedAgentID = os.Getenv("SF_AGENT_ID")
	}
	if resolvedAgentID == "" {
		logger.Logger.Error("Agent ID required (-agent-id, metadata.agent_id, or SF_AGENT_ID)")
		os.Exit(2)
	}

	// CLI flags win over document settings.
	opts := runner.Options{
		AgentID:         resolvedAgentID,
		ScenarioFile:    *scenarioPath,
		Filter:          *filter,
		GlobalVariables: globalVars,
		TurnRetry:       *turnRetry,
		Parallel:        *parallel,
	}
	if opts.TurnRetry == 0 {
		opts.TurnRetry = doc.Settings.TurnRetry
	}
	if opts.Parallel == 0 {
		opts.Parallel = doc.Settings.Parallel
	}

	requestTimeout := *timeout
	if requestTimeout == 0 && doc.Settings.Timeout != "" {
		if parsed, parseErr := time.ParseDuration(doc.Settings.Timeout); parseErr == nil {
			requestTimeout = parsed
		} else {
			logger.Logger.Warn("Ignoring invalid settings.timeout", "value", doc.Settings.Timeout)
		}
	}

	if len(runner.FilterScenarios(doc.Scenarios, opts.Filter)) == 0 {
		logger.Logger.Error("No scenarios match filter", "filter", opts.Filter)
		os.Exit(2)
	}

	ctx := context.Background()
	c := client.NewClient(client.Config{
		MyDomain:       *myDomain,
		ConsumerKey:    *consumerKey,
		ConsumerSecret: *consumerSecret,
		Timeout:        requestTimeout,
		RetryCount:     2,
	})

	if _, err := c.Authenticate(ctx); err != nil {
		logger.Logger.Error("Authentication failed", "error", err)
		os.Exit(2)
	}
	logger.Logger.Info("Starting run",
		"app", AppName,
		"scenarios", *scenarioPath,
		"agent", resolvedAgentID,
		"filter", opts.Filter,
		"parallel", opts.Parallel)

	suite := runner.RunScenarios(ctx, c, doc, opts)

	// The summary shares stdout with the report, so json-only runs skip it
	// to keep the output parseable.
	if doc.AISummary.Enabled && !*jsonOnly {
		if judge, judgeErr := summary.NewJudgeLLM(ctx, doc.AISummary); judgeErr != nil {
			logger.Logger.Warn("AI summary disabled", "error", judgeErr)
		} else if result := summary.Generate(ctx, judge, suite); result.Success {
			fmt.Println("\nAI SUMMARY")
			fmt.Println(result.Analysis)
		}
	}

	if !*jsonOnly {
		report.Print(os.Stdout, suite)
	}
	if *outputPath != "" {
		if err := report.WriteJSON(suite, *outputPath); err != nil {
			logger.Logger.Error("Failed to write results", "error", err)
		}
	}
	if *jsonOnly {
		data, jsonErr := report.ToJSON(suite)
		if jsonErr != nil {
			logger.Logger.Error("Failed to serialize results", "error", jsonErr)
			os.Exit(2)
		}
		fmt.Println(string(data))
	}

	report.PrintMachineTrailer(os.Stdout, suite, *outputPath)
	os.Exit(runner.ExitCode(suite))
}
