package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/huynh-missingcorner/media-studio-app/internal/auth"
	"github.com/huynh-missingcorner/media-studio-app/internal/config"
	"github.com/huynh-missingcorner/media-studio-app/internal/mediaapi"
)

var version = "0.1.0"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "genstudio",
	Short: "Generative media studio backend",
	Long: `genstudio drives a generative media API: image, video, audio and music
generation with reference images, video status polling and a browsable
history.

Examples:
  genstudio serve
  genstudio generate --type video --project p1 --prompt "waves at dusk"
  genstudio history --type image --page 2`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional env file with GENSTUDIO_* settings")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	return config.Load(envFile)
}

// newAPI returns the HTTP client, or the in-process mock when configured.
func newAPI(cfg config.Config) mediaapi.API {
	if cfg.Mock {
		return mediaapi.NewMockAPI()
	}
	var tokens auth.TokenSource
	if cfg.APIToken != "" {
		tokens = auth.StaticTokenSource(cfg.APIToken)
	}
	return mediaapi.NewClient(mediaapi.Options{
		BaseURL:   cfg.APIBaseURL,
		Timeout:   cfg.APITimeout,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Tokens:    tokens,
	})
}
