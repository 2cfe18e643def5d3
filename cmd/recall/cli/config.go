package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage settings stored in the memory database",
}

var configSetCmd = &cobra.Command{
	Use:   "set [key] [value]",
	Short: "Set a configuration value (secrets are encrypted)",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		key, value := args[0], args[1]

		eng := startEngine()
		defer eng.Close()

		if !eng.SetConfigValue(context.Background(), key, value, isSecretKey(key)) {
			fmt.Println("Failed to save configuration.")
			os.Exit(1)
		}
		fmt.Printf("Configuration saved: %s\n", key)
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get [key]",
	Short: "Get a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := startEngine()
		defer eng.Close()

		value, found := eng.ConfigValue(context.Background(), args[0])
		if !found {
			fmt.Println("(not set)")
			return
		}
		fmt.Println(value)
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset [key]",
	Short: "Remove a configuration value",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		eng := startEngine()
		defer eng.Close()

		if !eng.DeleteConfigValue(context.Background(), args[0]) {
			fmt.Println("Failed to remove configuration.")
			os.Exit(1)
		}
		fmt.Printf("Configuration removed: %s\n", args[0])
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all settings with secrets masked",
	Run: func(cmd *cobra.Command, args []string) {
		eng := startEngine()
		defer eng.Close()

		values := eng.ListConfigValues(context.Background())
		if len(values) == 0 {
			fmt.Println("(no settings)")
			return
		}
		keys := make([]string, 0, len(values))
		for k := range values {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("%s = %s\n", k, values[k])
		}
	},
}

// isSecretKey decides whether a setting is encrypted at rest.
func isSecretKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"key", "token", "secret", "password"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func init() {
	RootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configGetCmd)
	configCmd.AddCommand(configUnsetCmd)
	configCmd.AddCommand(configListCmd)
}
