package cli

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/valdirmariano/altaper4mance-sub000/internal/api"
)

func init() {
	rootCmd.AddCommand(hashTokenCmd)
}

var hashTokenCmd = &cobra.Command{
	Use:   "hash-token [token]",
	Short: "Hash an API token for the [auth] section",
	Long: `Print the bcrypt hash of token for use as token_hash in config.toml.
Without an argument a random token is generated and printed as well.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHashToken,
}

func runHashToken(cmd *cobra.Command, args []string) error {
	token := ""
	if len(args) == 1 {
		token = args[0]
	} else {
		buf := make([]byte, 24)
		if _, err := rand.Read(buf); err != nil {
			return err
		}
		token = hex.EncodeToString(buf)
		fmt.Fprintf(cmd.OutOrStdout(), "token:      %s\n", token)
	}
	hash, err := api.HashToken(token)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "token_hash: %s\n", hash)
	return nil
}
