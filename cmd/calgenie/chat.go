package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashureev/calgenie/internal/chat"
	"github.com/ashureev/calgenie/internal/domain"
	"github.com/ashureev/calgenie/internal/identity"
	"github.com/ashureev/calgenie/internal/transcript"
)

const cliUserID = "cli"

func newChatCmd(opts *globalOptions) *cobra.Command {
	var sessionID, email, name string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Negotiate meetings interactively",
		Long: `Start an interactive negotiation. Each line is one turn.

Commands:
  /cancel   drop everything pending
  /trace    show the trace of the last request
  /quit     leave`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			a, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			r := &repl{
				svc: a.Chat,
				base: chat.Turn{
					UserID:     cliUserID,
					SessionID:  sessionID,
					SessionKey: identity.JoinSessionKey(cliUserID, sessionID),
					Requester:  domain.Participant{Name: name, Email: email},
					Channel:    transcript.ChannelCLI,
				},
				out: cmd.OutOrStdout(),
			}
			return r.run(ctx, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&sessionID, "session", "terminal", "negotiation session id")
	cmd.Flags().StringVar(&email, "email", "", "requester email (default $DEFAULT_REQUESTER_EMAIL)")
	cmd.Flags().StringVar(&name, "name", "", "requester name")
	return cmd
}

type repl struct {
	svc  *chat.Service
	base chat.Turn
	out  io.Writer
}

func (r *repl) run(ctx context.Context, in io.Reader) error {
	fmt.Fprintln(r.out, "What would you like to schedule? (/quit to leave)")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		done, err := r.handle(ctx, line)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (r *repl) handle(ctx context.Context, line string) (bool, error) {
	switch line {
	case "/quit", "/exit":
		return true, nil
	case "/trace":
		sess, err := r.svc.View(ctx, r.base.SessionKey)
		if err != nil {
			return false, err
		}
		if sess == nil {
			fmt.Fprintln(r.out, "No trace available")
			return false, nil
		}
		fmt.Fprintln(r.out, sess.Trace.String())
		return false, nil
	}

	t := r.base
	t.Kind = chat.KindChat
	t.Text = line
	if line == "/cancel" {
		t.Kind = chat.KindCancel
		t.Text = ""
	}
	resp, err := r.svc.Run(ctx, t)
	if err != nil {
		return false, err
	}
	fmt.Fprintln(r.out, resp.Message)
	if resp.Warning != "" {
		fmt.Fprintln(r.out, "warning:", resp.Warning)
	}
	return false, nil
}
