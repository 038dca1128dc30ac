package cmd

import (
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vibing/supernet/config"
	"github.com/vibing/supernet/crypt"
)

var keygenOutFlag string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a host identity key",
	Long: `Generate an Ed25519 identity seed. The seed is written to --out and the
public key, which peers put in peer.remote_public_key, is printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		seed, public, err := crypt.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}
		if keygenOutFlag == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "private: %s\n", hex.EncodeToString(seed))
		} else if err := config.WriteKey(keygenOutFlag, seed); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "public: %s\n", hex.EncodeToString(public))
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOutFlag, "out", "", "file to write the private seed to (default: print it)")
	rootCmd.AddCommand(keygenCmd)
}
