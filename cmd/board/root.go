package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/client"
	"taskboard/config"
)

type options struct {
	profile   string
	apiURL    string
	streamURL string
	token     string
	clientID  string
	timeout   time.Duration

	cfg config.Board
}

func defaultProfile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "taskboard", "board.yaml")
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "board",
		Short:         "Work with the shared task board from a terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.profile, "profile", defaultProfile(), "YAML profile with api_url, stream_url, token")
	flags.StringVar(&opts.apiURL, "api", "", "Mutation API base URL")
	flags.StringVar(&opts.streamURL, "stream", "", "stream service base URL")
	flags.StringVar(&opts.token, "token", "", "bearer token")
	flags.StringVar(&opts.clientID, "client-id", "", "client identifier used for echo suppression")
	flags.DurationVar(&opts.timeout, "timeout", 0, "request timeout")

	root.AddCommand(
		newListCmd(opts),
		newWatchCmd(opts),
		newCreateCmd(opts),
		newEditCmd(opts),
		newMoveCmd(opts),
		newDeleteCmd(opts),
	)
	return root
}

// load merges profile, environment and flags, in increasing precedence.
func (o *options) load(cmd *cobra.Command) error {
	cfg, err := config.LoadBoard(o.profile)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("api") {
		cfg.APIURL = o.apiURL
	}
	if flags.Changed("stream") {
		cfg.StreamURL = o.streamURL
	}
	if flags.Changed("token") {
		cfg.Token = o.token
	}
	if flags.Changed("client-id") {
		cfg.ClientID = o.clientID
	}
	if flags.Changed("timeout") && o.timeout > 0 {
		cfg.Timeout = o.timeout
	}
	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	}
	o.cfg = cfg
	return nil
}

// connect builds a client that reports notices on the command's stderr.
func (o *options) connect(cmd *cobra.Command) *client.Client {
	errOut := cmd.ErrOrStderr()
	logger := log.New()
	logger.SetOutput(errOut)
	if log.GetLevel() == log.DebugLevel {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}
	return client.New(client.Config{
		APIURL:    o.cfg.APIURL,
		StreamURL: o.cfg.StreamURL,
		Token:     o.cfg.Token,
		ClientID:  o.cfg.ClientID,
		Timeout:   o.cfg.Timeout,
		Logger:    logger,
		Notifier: client.NotifierFunc(func(n client.Notice) {
			fmt.Fprintf(errOut, "! %s\n", n.Message)
		}),
	})
}

// seeded connects and loads the current board, for one-shot commands.
func (o *options) seeded(ctx context.Context, cmd *cobra.Command) (*client.Client, error) {
	c := o.connect(cmd)
	if err := c.Session.Seed(ctx); err != nil {
		c.Stop()
		return nil, fmt.Errorf("load board: %w", err)
	}
	return c, nil
}
