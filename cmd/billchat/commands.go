package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openlegis/billchat/internal/config"
	"github.com/openlegis/billchat/internal/legiscan"
	"github.com/openlegis/billchat/internal/openai"
	"github.com/openlegis/billchat/internal/storage"
	"github.com/openlegis/billchat/internal/tagging"
)

// tagCmd runs a single tagging pass in-process, sharing the server's
// database. Useful for backfilling tags without waiting on the HTTP trigger.
var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Tag all untagged bills in the local catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		store, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		legis := legiscan.NewClient(cfg.LegiScan.APIKey, cfg.LegiScan.BaseURL)
		ai := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model)
		pipe := tagging.NewPipeline(store, legis, ai, cfg.Tagging.Interval)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := pipe.Run(ctx); err != nil {
			printError("tagging run failed: %v", err)
			return err
		}
		printSuccess("tagging run complete")
		return nil
	},
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
