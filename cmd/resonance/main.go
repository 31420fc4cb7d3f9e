package main

import (
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ent0n29/resonance/internal/config"
	"github.com/ent0n29/resonance/internal/observability"
)

const appName = "resonance"

// Set via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := buildRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func buildRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "Adaptive response orchestration for a conversational companion",
		Long: strings.TrimSpace(`resonance analyzes each message, recalls relevant memories, picks a
response strategy from what has resonated before and asks the configured
generative service for a reply.

Configuration is read from the environment (see "resonance serve --help").`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newServeCommand())
	root.AddCommand(newChatCommand())
	root.AddCommand(newPromptCommand())
	root.AddCommand(newAnalyzeCommand())
	root.AddCommand(newLexiconCommand())
	root.AddCommand(newVersionCommand())
	return root
}

// loadConfig reads the environment and installs the process logger.
func loadConfig(logOut io.Writer) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, fmt.Errorf("config error: %w", err)
	}
	observability.SetLogger(observability.NewLogger(logOut, cfg.LogLevel, cfg.LogFormat))
	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  resonance version",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", appName, version)
			if info, ok := debug.ReadBuildInfo(); ok {
				fmt.Fprintf(out, "  Go: %s\n", info.GoVersion)
				for _, s := range info.Settings {
					if s.Key == "vcs.revision" {
						fmt.Fprintf(out, "  Build: %s\n", s.Value)
					}
				}
			}
			return nil
		},
	}
}
