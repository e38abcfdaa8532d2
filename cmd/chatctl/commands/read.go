package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"bazaar/internal/dto"
	"bazaar/pkg/chatclient"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func readCmd() *cobra.Command {
	var serverDecrypt bool
	cmd := &cobra.Command{
		Use:   "read <peer>",
		Short: "Fetch and decrypt the conversation with a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("peer must be a user id: %w", err)
			}

			var sealedKey []byte
			if !serverDecrypt {
				if err := requirePassphrase(); err != nil {
					return err
				}
				if sealedKey, err = os.ReadFile(keyFile); err != nil {
					return fmt.Errorf("read key file: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			hist, err := client.History(ctx, peer, serverDecrypt)
			if err != nil {
				return err
			}
			if len(hist.Messages) == 0 {
				hint(cmd.OutOrStdout(), "No messages with %s", peer)
				return nil
			}
			for _, m := range hist.Messages {
				fmt.Fprintln(cmd.OutOrStdout(), formatLine(m, text(m, sealedKey)))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&serverDecrypt, "server-decrypt", false, "ask the server to decrypt with your server-held key")
	return cmd
}

// text returns the readable body of m. Messages the caller sent were sealed
// for the peer and cannot be opened locally.
func text(m dto.MessageResponse, sealedKey []byte) string {
	switch {
	case m.Error != "":
		return color.RedString("[" + m.Error + "]")
	case m.Plaintext != nil:
		return *m.Plaintext
	case sealedKey == nil || m.Outgoing:
		return color.HiBlackString("[encrypted]")
	}
	plain, err := chatclient.Open(m, sealedKey, []byte(passphrase))
	if err != nil {
		return color.HiBlackString("[encrypted for peer]")
	}
	return string(plain)
}

func formatLine(m dto.MessageResponse, body string) string {
	line := fmt.Sprintf("%s %s %s", color.HiBlackString(m.CreatedAt.Local().Format(time.Kitchen)), color.CyanString(m.Type), body)
	if m.ExpiresAt != nil {
		line += " " + color.YellowString("(burns in %s)", time.Until(*m.ExpiresAt).Round(time.Second))
	}
	return line
}
