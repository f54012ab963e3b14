package cli

import (
	"context"
	"strings"

	"projectsync/backend/sqlite"

	"github.com/spf13/cobra"
)

// ProjectIDCompletion completes project ids from the local store. The store
// is opened lazily so completion never touches the network.
func ProjectIDCompletion(open func() (*sqlite.Database, error)) func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		// only the first argument is a project id
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		db, err := open()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer func() { _ = db.Close() }()

		projects, err := db.Store().GetAll(context.Background())
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		var completions []string
		prefix := strings.ToLower(toComplete)
		for _, p := range projects {
			if strings.HasPrefix(strings.ToLower(p.ID), prefix) {
				// "id\tdescription" shows the name next to the id
				completions = append(completions, p.ID+"\t"+p.Name)
			}
		}
		return completions, cobra.ShellCompDirectiveNoFileComp
	}
}
