package main

// Action Queue operator commands: queue, approve, cancel, update, delete,
// list. One file per feature area, matching the teacher's cmd/cli layout.

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func clientFromCmd(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("api")
	return newAPIClient(base)
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, a := range args {
		id, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid action id %q: %w", a, err)
		}
		ids[i] = id
	}
	return ids, nil
}

var actionsCmd = &cobra.Command{
	Use:   "actions",
	Short: "Manage the action queue",
}

var actionsQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Queue a new action",
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		deployment, _ := cmd.Flags().GetString("deployment")
		allocation, _ := cmd.Flags().GetString("allocation")
		amount, _ := cmd.Flags().GetString("amount")
		poi, _ := cmd.Flags().GetString("poi")
		force, _ := cmd.Flags().GetBool("force")
		source, _ := cmd.Flags().GetString("source")
		reason, _ := cmd.Flags().GetString("reason")
		priority, _ := cmd.Flags().GetInt("priority")
		network, _ := cmd.Flags().GetString("network")

		body := map[string]any{
			"type": typ, "deploymentId": deployment, "allocationId": allocation,
			"amount": amount, "poi": poi, "force": force, "source": source,
			"reason": reason, "priority": priority, "protocolNetwork": network,
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "POST", "/actions", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var actionsApproveCmd = &cobra.Command{
	Use:   "approve [id...]",
	Short: "Approve one or more queued actions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "POST", "/actions/approve", map[string]any{"ids": ids}, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var actionsCancelCmd = &cobra.Command{
	Use:   "cancel [id...]",
	Short: "Cancel one or more queued or approved actions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "POST", "/actions/cancel", map[string]any{"ids": ids}, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var actionsDeleteCmd = &cobra.Command{
	Use:   "delete [id...]",
	Short: "Delete one or more terminal actions",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "POST", "/actions/delete", map[string]any{"ids": ids}, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var actionsUpdateCmd = &cobra.Command{
	Use:   "update [id...]",
	Short: "Update queued actions' priority or reason",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := parseIDs(args)
		if err != nil {
			return err
		}
		patch := map[string]any{}
		if cmd.Flags().Changed("priority") {
			priority, _ := cmd.Flags().GetInt("priority")
			patch["priority"] = priority
		}
		if cmd.Flags().Changed("reason") {
			reason, _ := cmd.Flags().GetString("reason")
			patch["reason"] = reason
		}
		body := map[string]any{
			"filter": map[string]any{"ids": ids},
			"patch":  patch,
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "PATCH", "/actions", body, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

var actionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actions",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		network, _ := cmd.Flags().GetString("network")
		orderBy, _ := cmd.Flags().GetString("order-by")
		orderDirection, _ := cmd.Flags().GetString("order-direction")

		params := map[string]string{
			"status": status, "protocolNetwork": network,
			"orderBy": orderBy, "orderDirection": orderDirection,
		}
		path := "/actions"
		sep := "?"
		for _, key := range []string{"status", "protocolNetwork", "orderBy", "orderDirection"} {
			if v := params[key]; v != "" {
				path += sep + key + "=" + v
				sep = "&"
			}
		}
		var out json.RawMessage
		if err := clientFromCmd(cmd).do(cmd.Context(), "GET", path, nil, &out); err != nil {
			return err
		}
		return printJSON(out)
	},
}

func printJSON(raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	pretty, err := json.MarshalIndent(json.RawMessage(raw), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(pretty))
	return nil
}

func init() {
	actionsQueueCmd.Flags().String("type", "", "allocate|unallocate|reallocate")
	actionsQueueCmd.Flags().String("deployment", "", "deployment id (32-byte hex)")
	actionsQueueCmd.Flags().String("allocation", "", "allocation id, required for unallocate/reallocate")
	actionsQueueCmd.Flags().String("amount", "", "amount in base units")
	actionsQueueCmd.Flags().String("poi", "", "proof of indexing (32-byte hex)")
	actionsQueueCmd.Flags().Bool("force", false, "stored on the action; the active-target uniqueness check still applies")
	actionsQueueCmd.Flags().String("source", "", "caller identity, e.g. indexerAgent")
	actionsQueueCmd.Flags().String("reason", "", "human-readable justification")
	actionsQueueCmd.Flags().Int("priority", 0, "batch-ordering priority")
	actionsQueueCmd.Flags().String("network", "", "protocol network, human name or CAIP-2")

	actionsUpdateCmd.Flags().Int("priority", 0, "new priority")
	actionsUpdateCmd.Flags().String("reason", "", "new reason")

	actionsListCmd.Flags().String("status", "", "filter by status")
	actionsListCmd.Flags().String("network", "", "filter by protocol network")
	actionsListCmd.Flags().String("order-by", "", "priority|createdAt|updatedAt")
	actionsListCmd.Flags().String("order-direction", "", "asc|desc")

	actionsCmd.AddCommand(actionsQueueCmd, actionsApproveCmd, actionsCancelCmd, actionsUpdateCmd, actionsDeleteCmd, actionsListCmd)
}

// RegisterActions adds the actions command tree to root.
func RegisterActions(root *cobra.Command) { root.AddCommand(actionsCmd) }
