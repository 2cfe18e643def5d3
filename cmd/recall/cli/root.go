package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/aiovoice/recall"
)

var (
	dirFlag    string
	configFlag string
	verbose    bool
	jsonLogs   bool
)

// RootCmd is the base command when called without any subcommands.
var RootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Voice-agent memory engine",
	Long: `Recall manages a voice agent's memory: session recall, context caches,
a persistent hybrid-search memory store, markdown journal files and
background tool dispatch.`,
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.PersistentFlags().StringVar(&dirFlag, "dir", "", "Memory directory (default ~/.aio-voice)")
	RootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a YAML config file")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	RootCmd.PersistentFlags().BoolVar(&jsonLogs, "json", false, "JSON log output")
}

func engineConfig() recall.Config {
	cfg, err := recall.LoadConfig(configFlag)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if dirFlag != "" {
		cfg.Dir = dirFlag
		cfg.JournalDir = ""
	}
	cfg.Verbose = verbose
	if jsonLogs {
		cfg.JSONLogs = true
	}
	return cfg
}

// newEngine builds an engine without starting its background goroutines.
// Enough for resolution and journal commands.
func newEngine() *recall.Engine {
	eng, err := recall.New(engineConfig())
	if err != nil {
		fmt.Printf("Failed to initialize engine: %v\n", err)
		os.Exit(1)
	}
	return eng
}

// startEngine builds and starts an engine; commands touching the persistent
// store need the started form.
func startEngine() *recall.Engine {
	eng := newEngine()
	eng.Start(context.Background())
	return eng
}
