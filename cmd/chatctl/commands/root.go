package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"bazaar/pkg/chatclient"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	token      string
	keyFile    string
	passphrase string
	timeout    time.Duration

	client *chatclient.Client
)

func Execute() error {
	return execute(context.Background(), newRoot())
}

// execute runs root and reports any failure on its error stream.
func execute(ctx context.Context, root *cobra.Command) error {
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(root.ErrOrStderr(), color.RedString("✗")+" "+err.Error())
	}
	return err
}

func newRoot() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatctl",
		Short:         "Encrypted marketplace chat CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if serverURL == "" {
				serverURL = envOr("CHAT_SERVER", chatclient.DefaultBaseURL)
			}
			if token == "" {
				token = os.Getenv("CHAT_TOKEN")
			}
			if passphrase == "" {
				passphrase = os.Getenv("CHAT_PASSPHRASE")
			}
			if keyFile == "" {
				dir, err := os.UserHomeDir()
				if err != nil {
					return err
				}
				keyFile = filepath.Join(dir, ".bazaar", "key.pem")
			}
			client = chatclient.New(serverURL, token)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "", "chat API base URL (default $CHAT_SERVER or "+chatclient.DefaultBaseURL+")")
	root.PersistentFlags().StringVar(&token, "token", "", "bearer token (default $CHAT_TOKEN)")
	root.PersistentFlags().StringVar(&keyFile, "key-file", "", "sealed private key file (default ~/.bazaar/key.pem)")
	root.PersistentFlags().StringVarP(&passphrase, "passphrase", "p", "", "passphrase protecting the private key (default $CHAT_PASSPHRASE)")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	root.AddCommand(keygenCmd(), sendCmd(), readCmd(), conversationsCmd(), deleteCmd(), tokenCmd(), sweepCmd())
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func ok(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.GreenString("✓")+" "+fmt.Sprintf(format, args...))
}

func hint(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, color.CyanString("→")+" "+fmt.Sprintf(format, args...))
}

func requirePassphrase() error {
	if passphrase == "" {
		return fmt.Errorf("passphrase required (-p or CHAT_PASSPHRASE)")
	}
	return nil
}
