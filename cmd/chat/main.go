package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/carelink/wardchat/chat"
	"github.com/carelink/wardchat/client"
	"github.com/carelink/wardchat/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "wardchat",
		Short:        "Terminal client for ward group chats",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(chatCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func chatCmd() *cobra.Command {
	var logFile string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Join a group chat",
		Long: "Join a group chat. Every line typed is sent as a message.\n" +
			"Commands: /refresh re-subscribes, /retry sends the restored draft, /quit leaves.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			if err := cfg.ValidateClient(); err != nil {
				return err
			}

			logOut := io.Discard
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
				if err != nil {
					return fmt.Errorf("open log file: %w", err)
				}
				defer f.Close()
				logOut = f
			}
			logger := slog.New(slog.NewTextHandler(logOut, nil))

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, cfg, logger, os.Stdin, os.Stdout)
		},
	}
	fs := cmd.Flags()
	fs.String(config.FlagName("SERVER_URL"), "", "Message API base URL")
	fs.String(config.FlagName("GROUP_ID"), "", "Group to join")
	fs.String(config.FlagName("USER_ID"), "", "Your user id")
	fs.String(config.FlagName("USER_NAME"), "", "Your display name")
	fs.String(config.FlagName("USER_ROLE"), "", "Your role: doctor, nurse or patient")
	fs.Duration(config.FlagName("RECONCILE_WINDOW"), 0, "How far apart a pending message and its echo may be")
	fs.String(config.FlagName("FALLBACK_POLICY"), "", "on-empty, when-richer or never")
	fs.StringVar(&logFile, "log-file", "", "Write logs to this file")
	return cmd
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, in io.Reader, out io.Writer) error {
	sender, err := cfg.Sender()
	if err != nil {
		return err
	}
	policy, err := cfg.Policy()
	if err != nil {
		return err
	}

	repo := client.New(cfg.ServerURL, logger)
	group, err := repo.GetGroup(ctx, cfg.GroupID)
	if err != nil {
		return err
	}
	if !group.HasMember(sender.ID) {
		return fmt.Errorf("%s is not a member of %s", sender.ID, group.Name)
	}
	fmt.Fprintf(out, "Joined %s as %s\n", group.Name, sender.Name)

	sess := chat.Open(ctx, repo, group.ID, sender, chat.Config{
		Window: cfg.ReconcileWindow,
		Policy: policy,
		Logger: logger,
	})

	r := &renderer{w: out, viewerID: sender.ID}
	if f, ok := out.(*os.File); ok {
		r.clear = isatty.IsTerminal(f.Fd())
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for range sess.Updates() {
			r.render(sess.View())
		}
		return nil
	})
	g.Go(func() error {
		defer sess.Close()
		stop := make(chan struct{})
		defer close(stop)
		lines := readLines(in, stop)
		for {
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if done := handle(sess, line); done {
					return nil
				}
			}
		}
	})
	return g.Wait()
}

// readLines scans in on its own goroutine. The channel is closed at the end
// of input, or at the next line read once stop is closed.
func readLines(in io.Reader, stop <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case <-stop:
				return
			default:
			}
			select {
			case lines <- sc.Text():
			case <-stop:
				return
			}
		}
	}()
	return lines
}

// handle applies one line of input. It reports whether the user left.
func handle(sess *chat.Session, line string) bool {
	switch strings.TrimSpace(line) {
	case "/quit":
		return true
	case "/refresh":
		_ = sess.Refresh()
		return false
	case "/retry":
		line = sess.View().Draft
	}
	if _, err := sess.Send(line); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
		return errors.Is(err, chat.ErrSessionClosed)
	}
	return false
}
