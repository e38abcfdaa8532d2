package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"bazaar/internal/cryptobox"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// keygen writes <key-file> (sealed private key) and <key-file>.pub.
func keygenCmd() *cobra.Command {
	var (
		bits     int
		register bool
		force    bool
	)
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a local key pair sealed under your passphrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requirePassphrase(); err != nil {
				return err
			}
			if _, err := os.Stat(keyFile); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to replace it", keyFile)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}

			kp, err := cryptobox.NewKeyManager(cryptobox.WithRSABits(bits)).GenerateKeyPair([]byte(passphrase))
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(keyFile), 0o700); err != nil {
				return err
			}
			if err := os.WriteFile(keyFile, kp.PrivateKey, 0o600); err != nil {
				return err
			}
			if err := os.WriteFile(publicKeyPath(), kp.PublicKey, 0o644); err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Wrote %s", color.YellowString(keyFile))

			if !register {
				hint(cmd.OutOrStdout(), "Publish it with %s", color.YellowString("chatctl keygen --register"))
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			own, err := client.RegisterKey(ctx, kp.PublicKey)
			if err != nil {
				return err
			}
			ok(cmd.OutOrStdout(), "Registered %s key for %s", own.Custody, own.UserID)
			return nil
		},
	}
	cmd.Flags().IntVar(&bits, "bits", 4096, "RSA modulus size")
	cmd.Flags().BoolVar(&register, "register", false, "publish the public key to the server")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing key file")
	return cmd
}

func publicKeyPath() string {
	return strings.TrimSuffix(keyFile, filepath.Ext(keyFile)) + ".pub.pem"
}
