package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antoine1anthony/sprout-ci/internal/api"
	"github.com/spf13/cobra"
)

func newChatCmd(root *rootOptions) *cobra.Command {
	var (
		token       string
		interactive bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message...]",
		Short: "Send a message to the agent",
		Long: `Send a message to the agent and print its answer.

With --interactive, every line read from stdin is sent as the next turn of
the same conversation.`,
		Example: `  agentctl chat deploy service checkout
  agentctl chat --token 0b6f... "also set up the webhook for acme/checkout"
  agentctl chat -i`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAgentClient(root.server, root.timeout)
			out := cmd.OutOrStdout()

			if !interactive {
				if len(args) == 0 {
					return errors.New("a message is required (or use --interactive)")
				}
				_, err := sendTurn(cmd.Context(), client, out, strings.Join(args, " "), token)
				return err
			}

			scanner := bufio.NewScanner(cmd.InOrStdin())
			fmt.Fprint(out, dimStyle.Render("you> "))
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "" {
					fmt.Fprint(out, dimStyle.Render("you> "))
					continue
				}
				if line == "exit" || line == "quit" {
					return nil
				}
				next, err := sendTurn(cmd.Context(), client, out, line, token)
				if err != nil {
					fmt.Fprintln(out, errorStyle.Render("error: ")+err.Error())
				} else {
					token = next
				}
				fmt.Fprint(out, dimStyle.Render("you> "))
			}
			return scanner.Err()
		},
	}
	cmd.Flags().StringVarP(&token, "token", "t", "", "Continuation token from a previous reply")
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "Read turns from stdin")
	return cmd
}

// sendTurn prints the reply and returns the token for the next turn.
func sendTurn(ctx context.Context, client *agentClient, out io.Writer, message, token string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resp, err := client.Chat(ctx, api.ChatRequest{Message: message, ContinuationToken: token})
	if err != nil {
		return "", err
	}
	for _, inv := range resp.ToolInvocations {
		status := okStyle.Render("ok")
		if !inv.OK {
			status = errorStyle.Render(inv.ErrorKind)
		}
		fmt.Fprintf(out, "%s %s %s\n", dimStyle.Render(fmt.Sprintf("[round %d]", inv.Round)), inv.Tool, status)
	}
	fmt.Fprintln(out, agentStyle.Render("agent> ")+resp.Response)
	fmt.Fprintln(out, dimStyle.Render(fmt.Sprintf("token %s | %d rounds | %d tokens | %dms",
		resp.ContinuationToken, resp.Rounds, resp.Usage.TotalTokens, resp.LatencyMS)))
	return resp.ContinuationToken, nil
}
