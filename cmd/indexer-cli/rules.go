package main

// Cost-model and indexing-rule get/set/delete/list, per spec.md §6.

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func rulesCommand(name, path string) *cobra.Command {
	cmd := &cobra.Command{Use: name, Short: "Manage " + name}

	get := &cobra.Command{
		Use:  "get [key]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := clientFromCmd(cmd).do(cmd.Context(), "GET", path+"/"+args[0], nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	set := &cobra.Command{
		Use:  "set [key] [value]",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{"key": args[0], "value": args[1]}
			var out json.RawMessage
			if err := clientFromCmd(cmd).do(cmd.Context(), "PUT", path+"/"+args[0], body, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	del := &cobra.Command{
		Use:  "delete [key]",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return clientFromCmd(cmd).do(cmd.Context(), "DELETE", path+"/"+args[0], nil, nil)
		},
	}

	list := &cobra.Command{
		Use:  "list",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var out json.RawMessage
			if err := clientFromCmd(cmd).do(cmd.Context(), "GET", path, nil, &out); err != nil {
				return err
			}
			return printJSON(out)
		},
	}

	cmd.AddCommand(get, set, del, list)
	return cmd
}

// RegisterRules adds the cost-model and indexing-rule command trees to root.
func RegisterRules(root *cobra.Command) {
	root.AddCommand(rulesCommand("cost-models", "/cost-models"))
	root.AddCommand(rulesCommand("indexing-rules", "/indexing-rules"))
}
