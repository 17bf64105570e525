package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Manage API tokens",
}

var tokenHashCmd = &cobra.Command{
	Use:   "hash [token]",
	Short: "Hash a token for the security.token_hash config key",
	Long: `Hash an API token with bcrypt for use in the config file:

  security:
    token_hash: "<output of this command>"

Once a hash is configured the daemon only accepts the token you hashed
and the default token stops working.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		hash, err := bcrypt.GenerateFromPassword([]byte(args[0]), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("Failed to hash token: %v", err)
		}
		fmt.Println(string(hash))
	},
}

func init() {
	tokenCmd.AddCommand(tokenHashCmd)
	rootCmd.AddCommand(tokenCmd)
}
