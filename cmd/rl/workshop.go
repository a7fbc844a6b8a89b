package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"raciline/internal/app"
	"raciline/internal/domain"
	"raciline/internal/engine"
)

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage activity templates",
		Long:  "Templates carry roles, activities and recommended RACI defaults. Import a YAML/JSON document or a CSV matrix (Domain, Group, Activity, Description, then one column per role).",
	}
	tpl.AddCommand(templateImportCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	return tpl
}

func templateImportCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import a template file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tpl, err := e.ImportTemplate(ctx, engine.TemplateImportOptions{
					ID:       id,
					Name:     name,
					Filename: filepath.Base(args[0]),
					Source:   f,
					ActorID:  actorID(),
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tpl)
				}
				fmt.Printf("Imported template %s (%s): %d roles, %d activities, %d recommended rows\n",
					tpl.ID, tpl.Name, len(tpl.Catalog.Roles), len(tpl.Catalog.Activities), len(tpl.Catalog.Recommended))
				for _, w := range tpl.Warnings {
					fmt.Printf("  warning [%s] %s\n", w.Code, w.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "template id (derived from name and file when empty)")
	cmd.Flags().StringVar(&name, "name", "", "template name (overrides the document name)")
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListTemplates(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Source", "Roles", "Activities", "Warnings"})
				for _, t := range items {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Source, len(t.Catalog.Roles), len(t.Catalog.Activities), len(t.Warnings)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tpl, err := e.GetTemplate(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tpl)
				}
				fmt.Printf("%s (%s)\n", tpl.Name, tpl.ID)
				tw := newTable()
				tw.AppendHeader(table.Row{"Activity", "Domain", "Group", "Name"})
				for _, a := range tpl.Catalog.Activities {
					tw.AppendRow(table.Row{a.ID, a.Domain, a.Group, a.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workshopCmd() *cobra.Command {
	ws := &cobra.Command{
		Use:   "workshop",
		Short: "Manage workshops",
		Long:  "A workshop moves draft -> in_progress (first assignment) -> final (gate met or --force). A final workshop is read-only until reopened.",
	}
	ws.AddCommand(workshopCreateCmd())
	ws.AddCommand(workshopListCmd())
	ws.AddCommand(workshopShowCmd())
	ws.AddCommand(workshopUpdateCmd())
	ws.AddCommand(workshopUseCmd())
	ws.AddCommand(workshopDuplicateCmd())
	ws.AddCommand(workshopDeleteCmd())
	ws.AddCommand(workshopScopeCmd())
	ws.AddCommand(workshopMapRoleCmd())
	ws.AddCommand(workshopFinalizeCmd())
	ws.AddCommand(workshopReopenCmd())
	return ws
}

func workshopCreateCmd() *cobra.Command {
	var opts engine.WorkshopCreateOptions
	var domains, activities []string
	var use bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a workshop on a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Scope = domain.Scope{Domains: domains, Activities: activities}
			opts.ActorID = actorID()
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws, err := e.CreateWorkshop(ctx, opts)
				if err != nil {
					return err
				}
				if use {
					if err := app.UseWorkshop(viper.GetString("workspace"), ws.ID); err != nil {
						return err
					}
				}
				return printWorkshop(ws)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "workshop id (generated when empty)")
	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "template id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "workshop name")
	cmd.Flags().StringVar(&opts.Organization, "organization", "", "organization")
	cmd.Flags().StringVar(&opts.Facilitator, "facilitator", "", "facilitator")
	cmd.Flags().StringVar(&opts.Sponsor, "sponsor", "", "sponsor")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "goal")
	cmd.Flags().StringVar(&opts.Date, "date", "", "date (YYYY-MM-DD)")
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "domain in scope (repeatable)")
	cmd.Flags().StringSliceVar(&activities, "activity", nil, "activity id in scope (repeatable)")
	cmd.Flags().BoolVar(&use, "use", false, "make it the current workshop")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}

func workshopListCmd() *cobra.Command {
	var templateID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workshops",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListWorkshops(ctx, templateID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				current, _ := app.CurrentWorkshop(viper.GetString("workspace"), viper.GetString("workshop"))
				tw := newTable()
				tw.AppendHeader(table.Row{"", "ID", "Name", "Template", "Status", "Updated"})
				for _, ws := range items {
					mark := ""
					if ws.ID == current {
						mark = "*"
					}
					tw.AppendRow(table.Row{mark, ws.ID, ws.Name, ws.TemplateID, ws.Status, ws.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&templateID, "template", "", "only workshops of this template")
	return cmd
}

func workshopShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the current workshop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.GetWorkshop(ctx, id)
				if err != nil {
					return err
				}
				return printWorkshop(ws)
			})
		},
	}
}

func workshopUpdateCmd() *cobra.Command {
	var name, organization, facilitator, sponsor, goal, date string
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update workshop setup details",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.UpdateWorkshop(ctx, engine.WorkshopUpdateOptions{
					ID:           id,
					Name:         optionalString(cmd, "name", name),
					Organization: optionalString(cmd, "organization", organization),
					Facilitator:  optionalString(cmd, "facilitator", facilitator),
					Sponsor:      optionalString(cmd, "sponsor", sponsor),
					Goal:         optionalString(cmd, "goal", goal),
					Date:         optionalString(cmd, "date", date),
					ActorID:      actorID(),
				})
				if err != nil {
					return err
				}
				return printWorkshop(ws)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "workshop name")
	cmd.Flags().StringVar(&organization, "organization", "", "organization")
	cmd.Flags().StringVar(&facilitator, "facilitator", "", "facilitator")
	cmd.Flags().StringVar(&sponsor, "sponsor", "", "sponsor")
	cmd.Flags().StringVar(&goal, "goal", "", "goal")
	cmd.Flags().StringVar(&date, "date", "", "date (YYYY-MM-DD)")
	return cmd
}

func workshopUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the current workshop",
		Long:  "Writes RACILINE_WORKSHOP to <workspace>/.env so later commands target this workshop.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ws, err := e.GetWorkshop(ctx, args[0])
				if err != nil {
					return err
				}
				if err := app.UseWorkshop(viper.GetString("workspace"), ws.ID); err != nil {
					return err
				}
				fmt.Printf("Using workshop %s (%s)\n", ws.ID, ws.Name)
				return nil
			})
		},
	}
}

func workshopDuplicateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "duplicate",
		Short: "Copy the current workshop into a new draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.DuplicateWorkshop(ctx, id, name, actorID())
				if err != nil {
					return err
				}
				return printWorkshop(ws)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name of the copy")
	return cmd
}

func workshopDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a workshop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to delete %s without --yes", args[0])
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteWorkshop(ctx, args[0], actorID()); err != nil {
					return err
				}
				fmt.Printf("Deleted workshop %s\n", args[0])
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}

func workshopScopeCmd() *cobra.Command {
	var domains, activities []string
	cmd := &cobra.Command{
		Use:   "scope",
		Short: "Replace the workshop scope",
		Long:  "An empty filter selects every activity. With both --domain and --activity set, an activity must match both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.SetScope(ctx, id, domain.Scope{Domains: domains, Activities: activities}, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ws.Scope)
				}
				fmt.Printf("Scope: domains=%s activities=%s\n", strings.Join(ws.Scope.Domains, ","), strings.Join(ws.Scope.Activities, ","))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&domains, "domain", nil, "domain in scope (repeatable)")
	cmd.Flags().StringSliceVar(&activities, "activity", nil, "activity id in scope (repeatable)")
	return cmd
}

func workshopMapRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map-role <role-id> [person]",
		Short: "Map a template role to a person (omit person to clear)",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			person := ""
			if len(args) == 2 {
				person = args[1]
			}
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.MapRole(ctx, id, args[0], person, actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ws.RoleMappings)
				}
				fmt.Printf("%d roles mapped\n", ws.MappedRoles())
				return nil
			})
		},
	}
}

func workshopFinalizeCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize the current workshop",
		Long:  "Finalizing requires the completion gate: coverage at or above the threshold, a non-empty scope and at least one mapped role. --force skips the gate.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.Finalize(ctx, id, force, actorID())
				if err != nil {
					return err
				}
				return printWorkshop(ws)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "finalize even if the gate is not met")
	return cmd
}

func workshopReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen",
		Short: "Reopen a final workshop for edits",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkshop(cmd.Context(), func(ctx context.Context, e engine.Engine, id string) error {
				ws, err := e.Reopen(ctx, id, actorID())
				if err != nil {
					return err
				}
				return printWorkshop(ws)
			})
		},
	}
}

func printWorkshop(ws domain.Workshop) error {
	if viper.GetBool("json") {
		return printJSON(ws)
	}
	fmt.Printf("Workshop %s: %s [%s]\n", ws.ID, ws.Name, ws.Status)
	fmt.Printf("  template:     %s\n", ws.TemplateID)
	for _, f := range []struct{ label, value string }{
		{"organization", ws.Organization},
		{"facilitator", ws.Facilitator},
		{"sponsor", ws.Sponsor},
		{"goal", ws.Goal},
		{"date", ws.Date},
	} {
		if f.value != "" {
			fmt.Printf("  %-13s %s\n", f.label+":", f.value)
		}
	}
	fmt.Printf("  scope:        %d domains, %d activities\n", len(ws.Scope.Domains), len(ws.Scope.Activities))
	fmt.Printf("  roles mapped: %d\n", ws.MappedRoles())
	fmt.Printf("  assignments:  %d, decisions: %d, actions: %d\n", len(ws.Assignments), len(ws.Decisions), len(ws.Actions))
	return nil
}
