package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatehouse/credential"
)

var hashScheme string

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password",
	Short: "Hash an admin password for ADMIN_PASSWORD_HASH",
	Long: `Reads the password from the first line of standard input and prints a
stored hash suitable for ADMIN_PASSWORD_HASH.

  printf '%s\n' "$PASSWORD" | gatehouse hash-password --scheme argon2id`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		password, err := readSecret(cmd.InOrStdin())
		if err != nil {
			return err
		}
		hash, err := credential.Hash(password, credential.Scheme(hashScheme))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

// readSecret returns the first line of r without its line terminator.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", credential.ErrEmptySecret
	}
	return line, nil
}

func init() {
	rootCmd.AddCommand(hashPasswordCmd)
	hashPasswordCmd.Flags().StringVar(&hashScheme, "scheme", string(credential.SchemeBcrypt), "Hash scheme: bcrypt or argon2id")
}
