package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/phoenix/internal/config"
	"github.com/kebairia/phoenix/internal/crypto"
)

var keygenForce bool

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the backup encryption key",
	Long: `Creates the X25519 identity used to encrypt every artifact. An
existing key is never overwritten without --force; replacing it makes all
previously taken sessions undecryptable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(configFile); err != nil {
			return err
		}
		pub, err := crypto.GenerateKey(cfg.Encryption.KeyFile, keygenForce)
		if err != nil {
			return err
		}
		fmt.Printf("key written to %s\npublic key: %s\n", cfg.Encryption.KeyFile, pub)
		return nil
	},
}

func init() {
	keygenCmd.Flags().
		BoolVar(&keygenForce, "force", false, "overwrite an existing key")
}
