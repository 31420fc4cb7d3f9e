package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ent0n29/resonance/internal/app"
	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/emotion"
	"github.com/ent0n29/resonance/internal/lexicon"
)

func newPromptCommand() *cobra.Command {
	var userID, userName string
	cmd := &cobra.Command{
		Use:     "prompt <message>",
		Short:   "Print the prompt a turn would send, without generating",
		Example: "  resonance prompt --user alice \"my boss again\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(os.Stderr)
			if err != nil {
				return err
			}
			built, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer built.Cleanup()

			prompt, err := built.Companion.DebugPrompt(context.Background(), companion.TurnInput{
				UserID:   userID,
				Message:  strings.Join(args, " "),
				UserName: userName,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), prompt)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "User whose memories and history are used")
	cmd.Flags().StringVar(&userName, "name", "", "User name rendered into the prompt")
	return cmd
}

func newAnalyzeCommand() *cobra.Command {
	var lexiconPath string
	cmd := &cobra.Command{
		Use:     "analyze <text>",
		Short:   "Print the emotional signature of text as JSON",
		Example: "  resonance analyze \"I'm fine. Whatever.\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lx, err := lexicon.Load(lexiconPath)
			if err != nil {
				return err
			}
			sig := emotion.NewAnalyzer(lx).Analyze(strings.Join(args, " "))
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sig)
		},
	}
	cmd.Flags().StringVar(&lexiconPath, "lexicon", os.Getenv("LEXICON_PATH"), "Lexicon YAML override")
	return cmd
}

func newLexiconCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "lexicon",
		Short: "Inspect the keyword lexicon",
	}
	root.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON schema of lexicon files",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := lexicon.Schema()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(raw))
			return nil
		},
	})

	var path string
	dump := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective lexicon as YAML",
		Long:  "Print the effective lexicon as YAML. Without --file the embedded default is printed, ready to edit as an override.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				_, err := cmd.OutOrStdout().Write(lexicon.DefaultYAML())
				return err
			}
			lx, err := lexicon.Load(path)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(lx); err != nil {
				return err
			}
			return enc.Close()
		},
	}
	dump.Flags().StringVar(&path, "file", "", "Lexicon YAML to validate and normalize")
	root.AddCommand(dump)

	root.AddCommand(&cobra.Command{
		Use:   "validate <file>",
		Short: "Check a lexicon override file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lx, err := lexicon.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: lexicon %s (%d tones, %d themes)\n", lx.Version, len(lx.Tones), len(lx.Themes))
			return nil
		},
	})
	return root
}
