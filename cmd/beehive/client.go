package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rsclarke/beehive/internal/client"
	"github.com/rsclarke/beehive/internal/config"
)

type clientConfig struct {
	natsURL string
	subject string
	timeout time.Duration
}

var clientFlags clientConfig

func addClientFlags(cmd *cobra.Command, cfg *clientConfig) {
	defaults := config.Default().NATS
	cmd.PersistentFlags().StringVar(&cfg.natsURL, "nats-url", getEnv("BEEHIVE_NATS_URL", defaults.URL), "NATS server URL")
	cmd.PersistentFlags().StringVar(&cfg.subject, "commands-subject", getEnv("BEEHIVE_COMMANDS_SUBJECT", defaults.CommandsSubject), "engine command subject")
	cmd.PersistentFlags().DurationVar(&cfg.timeout, "timeout", defaults.RequestTimeout, "request timeout")
}

func (cfg *clientConfig) newClient() (*client.Client, error) {
	if cfg.natsURL == "" {
		return nil, fmt.Errorf("NATS URL required (use --nats-url flag or BEEHIVE_NATS_URL env var)")
	}
	return client.Dial(cfg.natsURL, cfg.subject, cfg.timeout)
}

// withClient dials the engine for the duration of fn.
func withClient(fn func(c *client.Client) error) error {
	c, err := clientFlags.newClient()
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(c)
}
