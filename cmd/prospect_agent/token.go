package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/config"
	"github.com/aquaregiaswarm-blip/deep-prospecting-engine/internal/server"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Operator credential helpers",
	}

	hash := &cobra.Command{
		Use:   "hash",
		Short: "Hash a password for OPERATOR_PASSWORD_HASH (reads stdin when --password is omitted)",
		RunE:  runTokenHash,
	}
	hash.Flags().String("password", "", "Password to hash")

	issue := &cobra.Command{
		Use:   "issue",
		Short: "Mint an API token signed with JWT_SECRET",
		RunE:  runTokenIssue,
	}
	issue.Flags().String("operator", "", "Operator name (defaults to OPERATOR_NAME or \"operator\")")

	cmd.AddCommand(hash, issue)
	return cmd
}

func runTokenHash(cmd *cobra.Command, _ []string) error {
	password, _ := cmd.Flags().GetString("password")
	if password == "" {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return errors.New("no password given on --password or stdin")
		}
		password = strings.TrimRight(line, "\r\n")
	}
	if password == "" {
		return errors.New("password must not be empty")
	}

	passwords, err := config.NewPasswordConfig()
	if err != nil {
		return err
	}
	hashed, err := passwords.HashPassword(password)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hashed)
	return err
}

func runTokenIssue(cmd *cobra.Command, _ []string) error {
	jwtCfg, err := config.NewJWTConfig()
	if err != nil {
		return err
	}
	operator, _ := cmd.Flags().GetString("operator")
	if operator == "" {
		operator = os.Getenv("OPERATOR_NAME")
	}
	if operator == "" {
		operator = "operator"
	}

	token, expiresAt, err := server.NewJWTService(jwtCfg).GenerateToken(operator)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", token, expiresAt.UTC().Format("2006-01-02T15:04:05Z"))
	return err
}
