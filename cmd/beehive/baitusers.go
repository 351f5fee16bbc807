package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/rsclarke/beehive/internal/client"
)

var baitUsersCmd = &cobra.Command{
	Use:   "bait-users",
	Short: "Manage the credentials bait clients log in with",
}

var baitUsersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bait users",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			users, err := c.BaitUsers()
			if err != nil {
				return err
			}
			if len(users) == 0 {
				fmt.Println("No bait users found.")
				return nil
			}

			fmt.Printf("%-6s  %-24s  %s\n", "ID", "USERNAME", "PASSWORD")
			for _, u := range users {
				fmt.Printf("%-6d  %-24s  %s\n", u.ID, u.Username, u.Password)
			}
			return nil
		})
	},
}

var baitUsersAddCmd = &cobra.Command{
	Use:   "add <username> <password>",
	Short: "Add a bait user",
	Long: `Add a bait user. Adding an existing username and password pair is a
no-op. Edges are rebuilt and affected drones reconfigured.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			added, err := c.AddBaitUser(args[0], args[1])
			if err != nil {
				return err
			}
			if !added.Created {
				fmt.Printf("Bait user %s already exists (id %d).\n", args[0], added.ID)
				return nil
			}
			fmt.Printf("Bait user %s added (id %d).\n", args[0], added.ID)
			return nil
		})
	},
}

var baitUsersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a bait user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid bait user id %q", args[0])
		}
		return withClient(func(c *client.Client) error {
			u, err := c.DeleteBaitUser(id)
			if err != nil {
				return err
			}
			fmt.Printf("Bait user %s deleted.\n", u.Username)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(baitUsersCmd)
	addClientFlags(baitUsersCmd, &clientFlags)
	baitUsersCmd.AddCommand(baitUsersListCmd, baitUsersAddCmd, baitUsersDeleteCmd)
}
