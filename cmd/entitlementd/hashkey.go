package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/geonexus/entitlements/internal/api"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	readPassword = term.ReadPassword
	isTerminal   = term.IsTerminal
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [key]",
	Short: "Print a bcrypt hash for ENT_ADMIN_KEY",
	Long: `Hash an admin key so ENT_ADMIN_KEY can hold the hash instead of the
plain key. Without an argument the key is read from stdin.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := adminKeyInput(args, cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		hash, err := api.HashAdminKey(key)
		if err != nil {
			return fmt.Errorf("hash key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func adminKeyInput(args []string, in io.Reader, prompt io.Writer) (string, error) {
	var key string
	switch {
	case len(args) == 1:
		key = args[0]
	case in == os.Stdin && isTerminal(int(os.Stdin.Fd())):
		fmt.Fprint(prompt, "Admin key: ")
		b, err := readPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read key: %w", err)
		}
		key = string(b)
	default:
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read key: %w", err)
		}
		key = line
	}

	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("admin key must not be empty")
	}
	return key, nil
}
