package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/auth"
)

func main() {
	var (
		user string
		ttl  time.Duration
	)
	cmd := &cobra.Command{
		Use:          "gen-token",
		Short:        "Mint an HS256 token for services running with AUTH0_TEST_MODE",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret := os.Getenv("TEST_JWT_SECRET")
			if secret == "" {
				return errors.New("missing TEST_JWT_SECRET")
			}
			tok, err := auth.IssueLocalToken([]byte(secret), user, ttl)
			if err != nil {
				return fmt.Errorf("generate token: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&user, "user", "board-user", "subject claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
