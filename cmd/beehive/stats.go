package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/rsclarke/beehive/internal/client"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show session and drone counts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(printStats)
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	addClientFlags(statsCmd, &clientFlags)
}

func printStats(c *client.Client) error {
	st, err := c.Stats()
	if err != nil {
		return err
	}

	fmt.Printf("Honeypots:      %d\n", st.Honeypots)
	fmt.Printf("Clients:        %d\n", st.Clients)
	fmt.Printf("Sessions:       %d\n", st.Sessions)
	fmt.Printf("Bait sessions:  %d (%d successful, %d failed)\n", st.BaitSessions, st.Bees.Successful, st.Bees.Failed)
	fmt.Printf("Attacks:        %d\n", st.Attacks)
	printCounts("Attacks by protocol", st.AttacksByProtocol)
	printCounts("Classifications", st.Classifications)
	return nil
}

func printCounts(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Println()
	fmt.Printf("%s:\n", title)
	for _, k := range keys {
		fmt.Printf("  %-20s %d\n", k, counts[k])
	}
}
