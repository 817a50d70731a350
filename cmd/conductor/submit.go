package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	submitType string
	submitFile string
)

func init() {
	submitCmd.Flags().StringVar(&submitType, "type", "", "task type, e.g. workflow or orchestrate (required)")
	submitCmd.Flags().StringVar(&submitFile, "file", "-", "JSON payload file, - for stdin")
	_ = submitCmd.MarkFlagRequired("type")
	rootCmd.AddCommand(submitCmd)
}

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Queue a task for the workers",
	Long: `Queue a task with a JSON payload. A running "conductor serve" with
workers enabled picks it up.

Examples:
  conductor submit --type workflow --file release.json
  echo '{"goal":"review the rollout"}' | conductor submit --type orchestrate`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		payload, err := readInput(submitFile)
		if err != nil {
			return fmt.Errorf("failed to read payload: %w", err)
		}
		if !json.Valid(payload) {
			return fmt.Errorf("payload is not valid JSON")
		}

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
		a, err := newApp(ctx, cfg, logger, appOptions{})
		if err != nil {
			return fmt.Errorf("failed to initialize dependencies: %w", err)
		}
		defer a.Close()

		task, err := a.queue.Enqueue(ctx, scopeID, submitType, payload)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), task)
	},
}
