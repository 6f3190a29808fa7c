package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/PabloGalante/insurance-agent/internal/app/conversation"
	"github.com/PabloGalante/insurance-agent/internal/domain"
	"github.com/PabloGalante/insurance-agent/internal/observability"
)

var (
	chatUser    string
	chatSession string
	chatToken   string
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to the assistant from the terminal",
	Long: `chat runs the same conversation service as the API against the configured
backends. Type a message per line; "exit" or end of input quits.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatUser, "user", "local-user", "user id owning the session")
	chatCmd.Flags().StringVar(&chatSession, "session", "", "resume an existing session id")
	chatCmd.Flags().StringVar(&chatToken, "token", "", "bearer token forwarded to the claims API")
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	in := bufio.NewScanner(cmd.InOrStdin())
	session := domain.SessionID(chatSession)

	fmt.Fprintln(out, "Ask about your policy or claims. Type 'exit' to quit.")
	for {
		fmt.Fprint(out, "> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		res, err := a.svc.ProcessTurn(ctx, conversation.TurnInput{
			SessionID: session,
			UserID:    domain.UserID(chatUser),
			AuthToken: chatToken,
			Message:   line,
		})
		var perr *domain.PersistenceError
		switch {
		case errors.As(err, &perr) && res != nil:
			observability.Logger().Warn("turn not persisted", "op", perr.Op, "error", perr.Err)
		case err != nil:
			return err
		}

		session = res.SessionID
		fmt.Fprintf(out, "%s\n  [session %s, step %s]\n", res.Message, res.SessionID, res.Step)
	}
	return in.Err()
}
