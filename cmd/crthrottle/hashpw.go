package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loykin/crthrottle/internal/auth"
)

func createHashPasswordCommand(d *deps) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print a bcrypt hash for a [[server.auth.users]] password_hash",
		Long: `Read a password from the first line of stdin and print its bcrypt hash.

Example:
  printf '%s\n' "$PASSWORD" | crthrottle hash-password`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return usageError{errors.New("no password on stdin")}
			}
			hash, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return usageError{err}
			}
			_, err = fmt.Fprintln(d.stdout, hash)
			return err
		},
	}
}
