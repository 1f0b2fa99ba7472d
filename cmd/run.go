package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"capsule-run/engine"
	capsuleerrors "capsule-run/errors"
	"capsule-run/schema"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a single command inside a sandbox",
	Long: `Read an ExecutionRequest as JSON from stdin (or --request), run it
inside a confined execution environment, and print the resulting
ExecutionResponse as JSON to stdout.

The process's own exit code mirrors the execution's outcome: the
command's exit code on success, 1 on error, 124 on timeout, 137 if
killed.`,
	Args: cobra.NoArgs,
	RunE: runRun,
}

var (
	runRequestPath string
	runProfile     string
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runRequestPath, "request", "r", "", "path to an ExecutionRequest JSON file (default: read from stdin)")
	runCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "named config profile to apply before the request's own fields")
}

// exitCodeFor maps an ExecutionResponse's status onto the CLI exit code
// spec.md §6 defines for the surrounding process.
func exitCodeFor(resp *schema.ExecutionResponse) int {
	switch resp.Status {
	case schema.StatusSuccess:
		if resp.ExitCode != nil {
			return *resp.ExitCode
		}
		return 0
	case schema.StatusTimeout:
		return 124
	case schema.StatusKilled:
		return 137
	default:
		return 1
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx := GetContext()

	data, err := readRequestInput()
	if err != nil {
		return fmt.Errorf("read execution request: %w", err)
	}

	var req schema.ExecutionRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("parse execution request: %w", err)
	}

	cfg, err := LoadConfig(globalConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyProfile(runProfile, &req)

	if !cfg.ValidateCommand(req.Command) {
		return printResponse(blockedCommandResponse(req.Command))
	}

	sup := engine.New()
	resp, err := sup.Execute(ctx, &req)
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}

	return printResponse(resp)
}

// readRequestInput reads the raw request JSON from --request's file, or
// from stdin when that flag was not given.
func readRequestInput() ([]byte, error) {
	if runRequestPath != "" {
		return os.ReadFile(runRequestPath)
	}
	return io.ReadAll(os.Stdin)
}

// blockedCommandResponse builds the Error response for a command denied
// by the configured security policy, before any sandbox setup is even
// attempted.
func blockedCommandResponse(command []string) *schema.ExecutionResponse {
	now := time.Now()
	name := ""
	if len(command) > 0 {
		name = command[0]
	}
	return schema.Failure(
		schema.NewExecutionID(),
		schema.StatusError,
		schema.ErrorResponse{
			Code:    capsuleerrors.ErrBlockedCommand.Code(),
			Message: fmt.Sprintf("command %q is blocked by policy", name),
		},
		now, now,
	)
}

// printResponse writes resp as JSON to stdout and exits the process
// with the code spec.md §6 assigns to its status.
func printResponse(resp *schema.ExecutionResponse) error {
	enc := json.NewEncoder(os.Stdout)
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	os.Exit(exitCodeFor(resp))
	return nil
}
