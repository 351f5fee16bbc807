package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rsclarke/beehive/internal/client"
	"github.com/rsclarke/beehive/internal/messages"
)

var dronesCmd = &cobra.Command{
	Use:   "drones",
	Short: "Manage honeypot and bait client drones",
}

var dronesListCmd = &cobra.Command{
	Use:       "list [all|unassigned|honeypot|client]",
	Short:     "List drones",
	Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"all", "unassigned", "honeypot", "client"},
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := ""
		if len(args) == 1 {
			filter = args[0]
		}
		return withClient(func(c *client.Client) error {
			rows, err := c.Drones(filter)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Println("No drones found.")
				return nil
			}

			fmt.Printf("%-36s  %-10s  %-20s  %-39s  %s\n", "ID", "TYPE", "NAME", "IP", "LAST ACTIVITY")
			for _, d := range rows {
				fmt.Printf("%-36s  %-10s  %-20s  %-39s  %s\n", d.ID, d.Type, d.Name, d.IPAddress, d.LastActivity)
			}
			return nil
		})
	},
}

var dronesAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new unassigned drone and print its config",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			cfg, err := c.AddDrone()
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

var dronesDeleteCmd = &cobra.Command{
	Use:   "delete <drone-id>",
	Short: "Delete a drone and tell it to shut down",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			if err := c.DeleteDrone(args[0]); err != nil {
				return err
			}
			fmt.Printf("Drone %s deleted.\n", args[0])
			return nil
		})
	},
}

var dronesConfigCmd = &cobra.Command{
	Use:   "config <drone-id>",
	Short: "Print the configuration document of a drone",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withClient(func(c *client.Client) error {
			cfg, err := c.DroneConfig(args[0])
			if err != nil {
				return err
			}
			return printJSON(cfg)
		})
	},
}

var configureFlags struct {
	settingsPath string
	mode         string
	name         string
	capabilities []string
}

var dronesConfigureCmd = &cobra.Command{
	Use:   "configure <drone-id>",
	Short: "Assign a drone its role",
	Long: `Assign a drone its role as a honeypot or a bait client.

Settings are read from the --settings JSON file when given. --mode, --name
and --capability override or extend them. A capability is a protocol name
with an optional port, for example "ssh" or "ssh:2222".`,
	Args: cobra.ExactArgs(1),
	RunE: runDronesConfigure,
}

func init() {
	rootCmd.AddCommand(dronesCmd)
	addClientFlags(dronesCmd, &clientFlags)
	dronesCmd.AddCommand(dronesListCmd, dronesAddCmd, dronesDeleteCmd, dronesConfigCmd, dronesConfigureCmd)

	f := dronesConfigureCmd.Flags()
	f.StringVarP(&configureFlags.settingsPath, "settings", "f", "", "JSON file with the drone settings")
	f.StringVar(&configureFlags.mode, "mode", "", "drone role: honeypot or client")
	f.StringVar(&configureFlags.name, "name", "", "display name")
	f.StringArrayVar(&configureFlags.capabilities, "capability", nil, "honeypot capability as protocol[:port] (repeatable)")
}

func runDronesConfigure(cmd *cobra.Command, args []string) error {
	settings, err := loadDroneSettings(configureFlags.settingsPath)
	if err != nil {
		return err
	}
	if configureFlags.mode != "" {
		settings.Mode = configureFlags.mode
	}
	if configureFlags.name != "" {
		settings.Name = configureFlags.name
	}
	for _, arg := range configureFlags.capabilities {
		proto, capSettings, err := parseCapability(arg)
		if err != nil {
			return err
		}
		if settings.Capabilities == nil {
			settings.Capabilities = make(map[string]messages.CapabilitySettings)
		}
		settings.Capabilities[proto] = capSettings
	}
	if settings.Mode == "" {
		return fmt.Errorf("drone mode required (use --mode or the settings file)")
	}

	return withClient(func(c *client.Client) error {
		cfg, err := c.ConfigureDrone(args[0], settings)
		if err != nil {
			return err
		}
		return printJSON(cfg)
	})
}

func loadDroneSettings(path string) (*messages.DroneSettings, error) {
	settings := &messages.DroneSettings{}
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

func parseCapability(arg string) (string, messages.CapabilitySettings, error) {
	proto, portStr, hasPort := strings.Cut(arg, ":")
	proto = strings.ToLower(strings.TrimSpace(proto))
	if proto == "" {
		return "", messages.CapabilitySettings{}, fmt.Errorf("invalid capability %q", arg)
	}
	var cs messages.CapabilitySettings
	if hasPort {
		port, err := strconv.Atoi(portStr)
		if err != nil || port <= 0 || port > 65535 {
			return "", messages.CapabilitySettings{}, fmt.Errorf("invalid port in capability %q", arg)
		}
		cs.Port = port
	}
	return proto, cs, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
