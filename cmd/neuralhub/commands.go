package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuralhub/neuralhub/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a message in the active conversation",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := strings.Join(args, " ")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/chat", map[string]string{"content": content})
		if err != nil {
			return err
		}

		var msg struct {
			Content string `json:"content"`
			Model   string `json:"model"`
		}
		if err := decodeJSON(resp, &msg); err != nil {
			return err
		}

		fmt.Printf("%s %s\n", colorize(colorBold, msg.Model+":"), msg.Content)
		return nil
	},
}

// --- keys ---

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage provider API keys",
}

var keysAddCmd = &cobra.Command{
	Use:   "add <provider> <secret>",
	Short: "Add or replace the API key for a provider",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, secret := args[0], args[1]

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/keys", map[string]string{
			"provider": provider,
			"secret":   secret,
		})
		if err != nil {
			return err
		}

		var key struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
		}
		if err := decodeJSON(resp, &key); err != nil {
			return err
		}

		printSuccess("Stored API key for %s (%s)", key.Provider, key.ID[:8])
		return nil
	},
}

var keysListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored API keys (secrets redacted)",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/keys")
		if err != nil {
			return err
		}

		var keys []struct {
			ID       string `json:"id"`
			Provider string `json:"provider"`
			Secret   string `json:"secret"`
			Active   bool   `json:"active"`
		}
		if err := decodeJSON(resp, &keys); err != nil {
			return err
		}

		if len(keys) == 0 {
			fmt.Println("No API keys stored.")
			return nil
		}

		for _, k := range keys {
			state := "inactive"
			if k.Active {
				state = "active"
			}
			fmt.Printf("%s  %-12s  %s  [%s]\n",
				colorize(colorCyan, k.ID[:8]),
				k.Provider,
				k.Secret,
				state,
			)
		}
		return nil
	},
}

var keysRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/keys/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("API key removed")
		return nil
	},
}

var keysToggleCmd = &cobra.Command{
	Use:   "toggle <id>",
	Short: "Activate or deactivate an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/keys/"+args[0]+"/toggle", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("API key toggled")
		return nil
	},
}

func init() {
	keysCmd.AddCommand(keysAddCmd)
	keysCmd.AddCommand(keysListCmd)
	keysCmd.AddCommand(keysRemoveCmd)
	keysCmd.AddCommand(keysToggleCmd)
}

// --- conversations ---

var conversationsCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"convos"},
	Short:   "Manage conversation history",
}

var conversationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List conversations, most recent first",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/conversations")
		if err != nil {
			return err
		}

		var convs []struct {
			ID       string `json:"id"`
			Title    string `json:"title"`
			Model    string `json:"model"`
			Messages []any  `json:"messages"`
		}
		if err := decodeJSON(resp, &convs); err != nil {
			return err
		}

		if len(convs) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		for _, c := range convs {
			fmt.Printf("%s  %-34s  %s (%d messages)\n",
				colorize(colorCyan, c.ID[:8]),
				c.Title,
				c.Model,
				len(c.Messages),
			)
		}
		return nil
	},
}

var conversationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation with its messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/conversations/"+args[0])
		if err != nil {
			return err
		}

		var conv any
		if err := decodeJSON(resp, &conv); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(conv)
	},
}

var conversationsRenameCmd = &cobra.Command{
	Use:   "rename <id> <title>",
	Short: "Rename a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.patch(cmd.Context(), "/v1/conversations/"+args[0], map[string]string{"title": args[1]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Renamed conversation to %q", args[1])
		return nil
	},
}

var conversationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/conversations/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Conversation deleted")
		return nil
	},
}

var conversationsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL conversations. Use --confirm to proceed.")
			return nil
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/v1/conversations")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("All conversations cleared")
		return nil
	},
}

func init() {
	conversationsClearCmd.Flags().Bool("confirm", false, "confirm clearing all conversations")
	conversationsCmd.AddCommand(conversationsListCmd)
	conversationsCmd.AddCommand(conversationsShowCmd)
	conversationsCmd.AddCommand(conversationsRenameCmd)
	conversationsCmd.AddCommand(conversationsDeleteCmd)
	conversationsCmd.AddCommand(conversationsClearCmd)
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List available AI models",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/models")
		if err != nil {
			return err
		}

		var listing struct {
			Default string `json:"default"`
			Models  []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Provider string `json:"provider"`
			} `json:"models"`
		}
		if err := decodeJSON(resp, &listing); err != nil {
			return err
		}

		for _, m := range listing.Models {
			marker := "  "
			if m.ID == listing.Default {
				marker = colorize(colorGreen, "* ")
			}
			fmt.Printf("%s%-28s  %-20s  [%s]\n", marker, m.ID, m.Name, m.Provider)
		}
		return nil
	},
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Show or set the active model",
}

var modelShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active model",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/session")
		if err != nil {
			return err
		}

		var session struct {
			Model string `json:"model"`
		}
		if err := decodeJSON(resp, &session); err != nil {
			return err
		}

		fmt.Println(session.Model)
		return nil
	},
}

var modelSetCmd = &cobra.Command{
	Use:   "set <model-id>",
	Short: "Set the active model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/v1/session/model", map[string]string{"model": args[0]})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Active model set to %s", result["model"])
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelShowCmd)
	modelCmd.AddCommand(modelSetCmd)
}

// --- usage ---

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show or reset free-tier usage",
}

var usageShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show free-tier request usage",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/v1/usage")
		if err != nil {
			return err
		}

		var usage struct {
			Used      int `json:"used"`
			Max       int `json:"max"`
			Remaining int `json:"remaining"`
		}
		if err := decodeJSON(resp, &usage); err != nil {
			return err
		}

		printStatus("Used", "%d/%d", usage.Used, usage.Max)
		printStatus("Remaining", "%d", usage.Remaining)
		return nil
	},
}

var usageResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the free-tier usage counter",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/usage/reset", nil)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Free-tier usage reset")
		return nil
	},
}

func init() {
	usageCmd.AddCommand(usageShowCmd)
	usageCmd.AddCommand(usageResetCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
