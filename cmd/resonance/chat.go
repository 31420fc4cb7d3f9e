package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/ent0n29/resonance/internal/app"
	"github.com/ent0n29/resonance/internal/companion"
	"github.com/ent0n29/resonance/internal/signal"
)

func newChatCommand() *cobra.Command {
	var (
		userID   string
		userName string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the companion in the terminal",
		Long: strings.TrimSpace(`Start an interactive conversation. Each message after the first is also
scored as your reply to the previous answer.

Commands:
  /rate <perfect|helpful|not_quite|unhelpful>  rate the last answer
  /stats                                       show learning stats
  /exit                                        quit`),
		Example: "  BRAIN_MODE=mock resonance chat --user alice --name Alice",
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

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			built.Start(ctx)

			return interactiveChat(ctx, newChatLoop(built, userID, userName), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&userID, "user", "local", "User id the conversation is stored under")
	cmd.Flags().StringVar(&userName, "name", "", "Name the companion calls you")
	return cmd
}

func interactiveChat(ctx context.Context, loop *chatLoop, out io.Writer) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "You: ",
		HistoryFile:     filepath.Join(os.TempDir(), ".resonance_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()

	fmt.Fprintf(out, "%s (Ctrl+C to exit)\n\n", loop.aiName)
	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out, "\nGoodbye!")
				return nil
			}
			return err
		}
		reply, quit := loop.handle(ctx, line)
		if reply != "" {
			fmt.Fprintln(out, reply)
		}
		if quit {
			return nil
		}
	}
}

// chatLoop turns terminal lines into companion calls inside one session.
type chatLoop struct {
	built     *app.BuildResult
	userID    string
	userName  string
	aiName    string
	sessionID string
	lastID    string
}

func newChatLoop(built *app.BuildResult, userID, userName string) *chatLoop {
	aiName := built.Config.AIName
	if aiName == "" {
		aiName = companion.DefaultAIName
	}
	sess := built.Sessions.Create(userID, aiName, userName)
	return &chatLoop{
		built:     built,
		userID:    userID,
		userName:  userName,
		aiName:    aiName,
		sessionID: sess.ID,
	}
}

func (l *chatLoop) handle(ctx context.Context, line string) (string, bool) {
	input := strings.TrimSpace(line)
	switch {
	case input == "":
		return "", false
	case input == "/exit" || input == "exit" || input == "quit":
		return "Goodbye!", true
	case input == "/stats":
		stats, err := l.built.Companion.LearningStats(ctx, l.userID)
		if err != nil {
			return "Error: " + err.Error(), false
		}
		raw, _ := json.MarshalIndent(stats, "", "  ")
		return string(raw), false
	case strings.HasPrefix(input, "/rate"):
		return l.rate(ctx, strings.TrimSpace(strings.TrimPrefix(input, "/rate"))), false
	}
	return l.turn(ctx, input), false
}

func (l *chatLoop) rate(ctx context.Context, label string) string {
	if l.lastID == "" {
		return "Nothing to rate yet."
	}
	if err := signal.ValidateFeedback(label); err != nil {
		return "Usage: /rate " + strings.Join(signal.FeedbackLabels(), "|")
	}
	if !l.built.Companion.CaptureFeedback(ctx, l.lastID, label, "") {
		return "That answer can no longer be rated."
	}
	return "Thanks, noted."
}

func (l *chatLoop) turn(ctx context.Context, message string) string {
	var b strings.Builder
	if f, ok, err := l.built.Sessions.TakeFollowup(l.sessionID); err == nil && ok {
		if score, captured := l.built.Companion.CaptureReply(ctx, f.SignalID, message, f.ElapsedSeconds); captured {
			fmt.Fprintf(&b, "[resonance of last answer: %.2f]\n", score)
		}
	}

	res, err := l.built.Companion.Orchestrate(ctx, companion.TurnInput{
		UserID:   l.userID,
		Message:  message,
		AIName:   l.aiName,
		UserName: l.userName,
	})
	if err != nil {
		return "Error: " + err.Error()
	}
	if res.SignalID != "" {
		l.lastID = res.SignalID
		_ = l.built.Sessions.RecordTurn(l.sessionID, res.SignalID)
	}
	fmt.Fprintf(&b, "\n%s: %s\n", l.aiName, res.Response)
	return b.String()
}
