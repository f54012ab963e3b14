package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"projectsync/backend"
	"projectsync/backend/sqlite"
	backendsync "projectsync/backend/sync"
	"projectsync/internal/cli"
	"projectsync/internal/config"
	internalsync "projectsync/internal/sync"
	"projectsync/internal/utils"

	"github.com/spf13/cobra"
)

func newProjectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "project",
		Aliases: []string{"projects", "p"},
		Short:   "Create, change and browse projects",
		Long: `Work with projects in the local store.

Changes are applied locally and queued for the server, so every command here
works offline.

Examples:
  projectsync project add "Harbor bridge" --type civil --client "Port Authority"
  projectsync project update local-1a2b --status active --tags steel,coastal
  projectsync project list --status active --search bridge
  projectsync project show 42 --format json
  projectsync project delete 42`,
	}

	cmd.AddCommand(newProjectAddCmd())
	cmd.AddCommand(newProjectUpdateCmd())
	cmd.AddCommand(newProjectDeleteCmd())
	cmd.AddCommand(newProjectListCmd())
	cmd.AddCommand(newProjectShowCmd())

	return cmd
}

func projectIDCompletion() func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return cli.ProjectIDCompletion(func() (*sqlite.Database, error) {
		return openDatabase(config.GetConfig())
	})
}

// addFieldFlags registers the flags shared by add and update
func addFieldFlags(cmd *cobra.Command) {
	cmd.Flags().String("description", "", "project description")
	cmd.Flags().StringP("status", "s", "", "project status (e.g. planning, active, done)")
	cmd.Flags().StringP("type", "t", "", "project type")
	cmd.Flags().String("location", "", "project location")
	cmd.Flags().String("client", "", "client name")
	cmd.Flags().String("company", "", "client company")
	cmd.Flags().String("email", "", "client email")
	cmd.Flags().String("start", "", "timeline start (YYYY-MM-DD, empty to clear)")
	cmd.Flags().String("end", "", "timeline end (YYYY-MM-DD, empty to clear)")
	cmd.Flags().Float64("budget", 0, "budget amount")
	cmd.Flags().String("currency", "", "budget currency (ISO 4217, e.g. EUR)")
	cmd.Flags().String("team", "", "comma separated team members")
	cmd.Flags().String("tags", "", "comma separated tags")
	cmd.Flags().StringArray("meta", nil, "metadata entry key=value (repeatable)")
	cmd.Flags().Bool("no-sync", false, "do not start a background sync afterwards")
}

// buildPatch collects the changed flags into a patch. Nested objects are sent
// whole, starting from current, because patches replace top-level fields.
func buildPatch(cmd *cobra.Command, current *backend.Project) (backend.Fields, error) {
	flags := cmd.Flags()
	patch := backend.Fields{}

	for flag, key := range map[string]string{
		"name":        "name",
		"description": "description",
		"status":      "status",
		"type":        "type",
		"location":    "location",
	} {
		if flags.Lookup(flag) != nil && flags.Changed(flag) {
			v, _ := flags.GetString(flag)
			patch[key] = v
		}
	}

	if flags.Changed("client") || flags.Changed("company") || flags.Changed("email") {
		c := current.Client
		if flags.Changed("client") {
			c.Name, _ = flags.GetString("client")
		}
		if flags.Changed("company") {
			c.Company, _ = flags.GetString("company")
		}
		if flags.Changed("email") {
			c.Email, _ = flags.GetString("email")
		}
		patch["client"] = c
	}

	if flags.Changed("start") || flags.Changed("end") {
		tl := current.Timeline
		if flags.Changed("start") {
			v, _ := flags.GetString("start")
			start, err := utils.ParseDateFlag(v)
			if err != nil {
				return nil, err
			}
			tl.Start = start
		}
		if flags.Changed("end") {
			v, _ := flags.GetString("end")
			end, err := utils.ParseDateFlag(v)
			if err != nil {
				return nil, err
			}
			tl.End = end
		}
		if err := utils.ValidateTimeline(tl.Start, tl.End); err != nil {
			return nil, err
		}
		patch["timeline"] = tl
	}

	if flags.Changed("budget") || flags.Changed("currency") {
		b := current.Budget
		if flags.Changed("budget") {
			b.Amount, _ = flags.GetFloat64("budget")
		}
		if flags.Changed("currency") {
			v, _ := flags.GetString("currency")
			b.Currency = strings.ToUpper(strings.TrimSpace(v))
		}
		if err := utils.ValidateBudget(b.Amount, b.Currency); err != nil {
			return nil, err
		}
		patch["budget"] = b
	}

	if flags.Changed("team") {
		v, _ := flags.GetString("team")
		patch["team"] = utils.ParseList(v)
	}
	if flags.Changed("tags") {
		v, _ := flags.GetString("tags")
		patch["tags"] = utils.ParseList(v)
	}

	if flags.Changed("meta") {
		entries, _ := flags.GetStringArray("meta")
		assigned, err := parseAssignments(entries)
		if err != nil {
			return nil, err
		}
		meta := make(map[string]any, len(current.Metadata)+len(assigned))
		for k, v := range current.Metadata {
			meta[k] = v
		}
		for k, v := range assigned {
			meta[k] = v
		}
		patch["metadata"] = meta
	}

	return patch, nil
}

// parseAssignments turns key=value pairs into fields. Values that parse as
// JSON keep their type, anything else is a string.
func parseAssignments(entries []string) (backend.Fields, error) {
	out := backend.Fields{}
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", entry)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			out[key] = decoded
		} else {
			out[key] = value
		}
	}
	return out, nil
}

func sortedKeys(f backend.Fields) []string {
	keys := f.Keys()
	sort.Strings(keys)
	return keys
}

// afterMutation pushes the queue in a detached process unless disabled
func afterMutation(cmd *cobra.Command, cfg *config.Config) {
	if noSync, _ := cmd.Flags().GetBool("no-sync"); noSync || !cfg.Sync.Enabled {
		return
	}
	if err := internalsync.SpawnBackgroundSync(backgroundArgs()...); err != nil {
		utils.Debugf("Could not start background sync: %v", err)
	}
}

func notFound(id string, err error) error {
	if errors.Is(err, backendsync.ErrProjectNotFound) {
		return utils.ErrProjectNotFound(id, backendsync.ErrProjectNotFound)
	}
	return err
}

func newProjectAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			fields, err := buildPatch(cmd, &backend.Project{})
			if err != nil {
				return err
			}
			fields["name"] = args[0]

			p, err := app.mutator.CreateProject(context.Background(), fields)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created project %s (%s)\n", p.Name, p.ID)
			afterMutation(cmd, app.config)
			return nil
		},
	}
	addFieldFlags(cmd)
	return cmd
}

func newProjectUpdateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "update <id>",
		Short:             "Change fields of a project",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: projectIDCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := context.Background()
			id := args[0]

			current, err := app.db.Store().Get(ctx, id)
			if err != nil {
				return err
			}
			if current == nil || current.LocallyDeleted {
				return utils.ErrProjectNotFound(id, backendsync.ErrProjectNotFound)
			}

			patch, err := buildPatch(cmd, current)
			if err != nil {
				return err
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to update (see 'projectsync project update --help')")
			}

			p, err := app.mutator.UpdateProject(ctx, id, patch)
			if err != nil {
				return notFound(id, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Updated project %s (%s): %s\n", p.Name, p.ID, strings.Join(sortedKeys(patch), ", "))
			afterMutation(cmd, app.config)
			return nil
		},
	}
	cmd.Flags().String("name", "", "project name")
	addFieldFlags(cmd)
	return cmd
}

func newProjectDeleteCmd() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:               "delete <id>",
		Aliases:           []string{"rm"},
		Short:             "Delete a project",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: projectIDCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			ctx := context.Background()
			id := args[0]

			current, err := app.db.Store().Get(ctx, id)
			if err != nil {
				return err
			}
			if current == nil || current.LocallyDeleted {
				return utils.ErrProjectNotFound(id, backendsync.ErrProjectNotFound)
			}

			if !yes && !utils.PromptYesNo(fmt.Sprintf("Delete project %q (%s)?", current.Name, id)) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled")
				return nil
			}

			if err := app.mutator.DeleteProject(ctx, id); err != nil {
				return notFound(id, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Deleted project %s (%s)\n", current.Name, id)
			afterMutation(cmd, app.config)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	cmd.Flags().Bool("no-sync", false, "do not start a background sync afterwards")
	return cmd
}

func newProjectListCmd() *cobra.Command {
	var filter backend.ProjectFilter
	var format string

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List projects from the local store",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			projects, err := app.db.Store().QueryByFilter(context.Background(), filter)
			if err != nil {
				return err
			}

			if handled, err := utils.WriteOutput(cmd.OutOrStdout(), format, projects); handled {
				return err
			}
			cli.ShowProjects(cmd.OutOrStdout(), projects)
			return nil
		},
	}

	cmd.Flags().StringVarP(&filter.Status, "status", "s", "", "only projects with this status")
	cmd.Flags().StringVarP(&filter.Type, "type", "t", "", "only projects of this type")
	cmd.Flags().StringVar(&filter.ClientSubstring, "client", "", "client name or company contains")
	cmd.Flags().StringVarP(&filter.SearchText, "search", "q", "", "name, description or location contains")
	cmd.Flags().StringVar(&filter.CreatedBy, "created-by", "", "only projects created by this user")
	cmd.Flags().StringVarP(&format, "format", "f", utils.FormatText, "output format: text, json, yaml")
	return cmd
}

func newProjectShowCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:               "show <id>",
		Short:             "Show one project",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: projectIDCompletion(),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp()
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			p, err := app.db.Store().Get(context.Background(), args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return utils.ErrProjectNotFound(args[0], backendsync.ErrProjectNotFound)
			}

			if handled, err := utils.WriteOutput(cmd.OutOrStdout(), format, p); handled {
				return err
			}
			cli.ShowProject(cmd.OutOrStdout(), p)
			return nil
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", utils.FormatText, "output format: text, json, yaml")
	return cmd
}
