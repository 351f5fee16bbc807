package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rsclarke/beehive/internal/client"
)

var sessionsCmd = &cobra.Command{
	Use:       "sessions [all|attacks|bait]",
	Short:     "List classified sessions, newest first",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"all", "attacks", "bait"},
	RunE:      runSessions,
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Inspect a single session",
}

var sessionCredentialsCmd = &cobra.Command{
	Use:   "credentials <session-id>",
	Short: "Show the authentication attempts of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionCredentials,
}

var sessionTranscriptCmd = &cobra.Command{
	Use:   "transcript <session-id>",
	Short: "Show the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionTranscript,
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
	addClientFlags(sessionsCmd, &clientFlags)

	rootCmd.AddCommand(sessionCmd)
	addClientFlags(sessionCmd, &clientFlags)
	sessionCmd.AddCommand(sessionCredentialsCmd, sessionTranscriptCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	kind := "all"
	if len(args) == 1 {
		kind = args[0]
	}

	return withClient(func(c *client.Client) error {
		rows, err := c.Sessions(kind)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}

		fmt.Printf("%-19s  %-8s  %-39s  %-18s  %-8s  %s\n", "TIME", "PROTOCOL", "SOURCE", "CLASSIFICATION", "ATTEMPTS", "ID")
		for _, r := range rows {
			fmt.Printf("%-19s  %-8s  %-39s  %-18s  %-8d  %s\n",
				r.Time, r.Protocol, r.IPAddress, r.Classification, len(r.AuthAttempts), r.ID)
		}
		return nil
	})
}

func runSessionCredentials(cmd *cobra.Command, args []string) error {
	return withClient(func(c *client.Client) error {
		creds, err := c.SessionCredentials(args[0])
		if err != nil {
			return err
		}
		if len(creds) == 0 {
			fmt.Println("No authentication attempts.")
			return nil
		}

		fmt.Printf("%-24s  %-24s  %s\n", "USERNAME", "PASSWORD", "SUCCESSFUL")
		for _, cr := range creds {
			fmt.Printf("%-24s  %-24s  %t\n", cr.Username, cr.Password, cr.Successful)
		}
		return nil
	})
}

func runSessionTranscript(cmd *cobra.Command, args []string) error {
	return withClient(func(c *client.Client) error {
		rows, err := c.SessionTranscript(args[0])
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("No transcript recorded.")
			return nil
		}

		for _, r := range rows {
			fmt.Printf("%s  %-3s  %s\n", r.Time, r.Direction, r.Data)
		}
		return nil
	})
}
