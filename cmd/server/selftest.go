package main

import (
	"fmt"
	"time"

	"github.com/lawn-analyzer/backend/internal/session"
	"github.com/lawn-analyzer/backend/internal/storage"
	"github.com/spf13/cobra"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Send the diagnostic prompt once and print the reply",
	RunE:  runSelfTest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

func runSelfTest(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer a.client.Close()

	mgr := session.NewManager(storage.NewMemoryStore(), a.model, session.Config{
		SelfTestPrompt: a.cfg.Analysis.SelfTestPrompt,
	}, a.log)

	start := time.Now()
	text, err := mgr.SelfTest(cmd.Context())
	if err != nil {
		a.log.Error().Err(err).Msg("self-test failed")
		return err
	}
	a.log.Info().Dur("elapsed", time.Since(start)).Msg("self-test succeeded")
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
