// Command indexer-cli is the operator command surface of spec.md §6:
// queue/approve/cancel/update/list actions and cost-model/indexing-rule
// get/set, against a running indexer-agent's management API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// errUsage marks a malformed invocation (bad flag value, missing required
// argument) as distinct from a backend failure, for the exit-code contract
// of spec.md §6: "0 success, 1 generic failure, 2 usage error."
var errUsage = errors.New("usage error")

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:           "indexer-cli",
		Short:         "Operator CLI for the indexer agent's management API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("api", "http://localhost:7601", "management API base URL")

	RegisterActions(root)
	RegisterRules(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
