package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/timmy/vidtalker/internal/app"
	"github.com/timmy/vidtalker/internal/config"
	"github.com/timmy/vidtalker/internal/domain"
	"github.com/timmy/vidtalker/internal/logger"
)

var (
	version    = "dev"
	commit     = "none"
	buildDate  = "unknown"
	jsonOutput bool
	configPath string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "vidtalker",
		Short: "Talk to your videos",
		Long: `vidtalker turns a video URL into a searchable, speaker-labelled
transcript and answers questions about it with timestamped citations.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("CONFIG_PATH"), "Path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version info",
		Run: func(cmd *cobra.Command, args []string) {
			if jsonOutput {
				printJSON(map[string]string{
					"version": version,
					"commit":  commit,
					"date":    buildDate,
				})
			} else {
				fmt.Printf("vidtalker %s (%s, %s)\n", version, commit, buildDate)
			}
		},
	})

	rootCmd.AddCommand(
		processCmd(),
		transcribeCmd(),
		embedCmd(),
		askCmd(),
		blogCmd(),
		indexCmd(),
		runsCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fail(err)
	}
}

// withApp builds the service graph for commands that need it and cancels
// the command context on SIGINT/SIGTERM.
func withApp(fn func(ctx context.Context, a *app.App, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		envCfg := logger.LoadFromEnv()
		envCfg.Output = os.Stderr // stdout carries command output
		log := logger.NewFromEnv(envCfg)
		logger.SetDefaultLogger(log)
		defer logger.Sync()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = log.WithContext(ctx)

		a, err := app.New(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return fn(ctx, a, args)
	}
}

type errorResult struct {
	Status  string `json:"status"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func fail(err error) {
	result := errorResult{Status: "error", Kind: string(domain.KindOf(err)), Message: err.Error()}
	if jsonOutput {
		printJSON(result)
	} else {
		fmt.Fprintf(os.Stderr, "Error (%s): %s\n", result.Kind, result.Message)
	}
	os.Exit(1)
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
