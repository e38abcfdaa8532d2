package commands

import (
	"context"
	"fmt"
	"time"

	"bazaar/internal/dto"
	"bazaar/pkg/chatclient"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// send <peer> <message>: encrypt for <peer> and post.
func sendCmd() *cobra.Command {
	var (
		ttl           time.Duration
		kind          string
		serverEncrypt bool
	)
	cmd := &cobra.Command{
		Use:   "send <peer> <message>",
		Short: "Encrypt and send a message to a peer",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			peer, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("peer must be a user id: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			var res dto.MessageResponse
			if serverEncrypt {
				req := chatclient.PlaintextRequest(args[1], kind)
				if secs := ttlSeconds(ttl); secs > 0 {
					req.TTLSeconds = &secs
				}
				res, err = client.Send(ctx, peer, req)
			} else {
				res, err = client.SendEncrypted(ctx, peer, []byte(args[1]), kind, ttl)
			}
			if err != nil {
				return err
			}

			ok(cmd.OutOrStdout(), "Sent %s", color.YellowString(res.ID))
			if res.ExpiresAt != nil {
				hint(cmd.OutOrStdout(), "Self-destructs at %s", res.ExpiresAt.Local().Format(time.RFC1123))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "self-destruct after this long (e.g. 30s, 10m)")
	cmd.Flags().StringVar(&kind, "type", "INQUIRY", "message type: INQUIRY, OFFER, ORDER or SYSTEM")
	cmd.Flags().BoolVar(&serverEncrypt, "server-encrypt", false, "send plaintext and let the server encrypt it")
	return cmd
}

// ttlSeconds rounds ttl to whole seconds; any positive ttl is at least one.
func ttlSeconds(ttl time.Duration) int64 {
	if ttl <= 0 {
		return 0
	}
	return max(int64(ttl.Round(time.Second)/time.Second), 1)
}
