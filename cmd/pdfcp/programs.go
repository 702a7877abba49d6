package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gapforets/internal/app"
	"gapforets/internal/comparatif"
	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/engine/auth"
	"gapforets/internal/policy"
	"gapforets/internal/repo"
)

func programCmd() *cobra.Command {
	prg := &cobra.Command{Use: "program", Short: "Manage programs"}
	prg.AddCommand(programCreateCmd())
	prg.AddCommand(programListCmd())
	prg.AddCommand(programShowCmd())
	prg.AddCommand(programUpdateCmd())
	prg.AddCommand(programAccessCmd())
	return prg
}

func programCreateCmd() *cobra.Command {
	var opts engine.ProgramCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a program in DRAFT",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				p, err := a.Engine.CreateProgram(ctx, opts, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "program id (generated when empty)")
	cmd.Flags().StringVar(&opts.Code, "code", "", "program code (PDFCP-<year>-<suffix> when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.RegionID, "region", "", "region id")
	cmd.Flags().StringVar(&opts.ProvinceID, "province", "", "province id")
	cmd.Flags().StringVar(&opts.CommuneID, "commune", "", "commune id")
	cmd.Flags().IntVar(&opts.YearStart, "year-start", 0, "first year")
	cmd.Flags().IntVar(&opts.YearEnd, "year-end", 0, "last year")
	cmd.Flags().Float64Var(&opts.TotalBudget, "budget", 0, "total budget")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func programListCmd() *cobra.Command {
	var f repo.ProgramFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List programs",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.Status(strings.ToUpper(strings.TrimSpace(status)))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListPrograms(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Code", "Title", "Years", "Status", "Commune"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Code, p.Title, fmt.Sprintf("%d-%d", p.YearStart, p.YearEnd), p.ValidationStatus, p.CommuneID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.RegionID, "region", "", "region filter")
	cmd.Flags().StringVar(&f.ProvinceID, "province", "", "province filter")
	cmd.Flags().StringVar(&f.CommuneID, "commune", "", "commune filter")
	return cmd
}

func programShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <program-id>",
		Short: "Show a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProgram(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func programUpdateCmd() *cobra.Command {
	var code, title, description, region, province, commune string
	var yearStart, yearEnd int
	var budget float64
	cmd := &cobra.Command{
		Use:   "update <program-id>",
		Short: "Update program fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProgramUpdateOptions{
				Code:        optionalString(cmd, "code", code),
				Title:       optionalString(cmd, "title", title),
				Description: optionalString(cmd, "description", description),
				RegionID:    optionalString(cmd, "region", region),
				ProvinceID:  optionalString(cmd, "province", province),
				CommuneID:   optionalString(cmd, "commune", commune),
				YearStart:   optionalInt(cmd, "year-start", yearStart),
				YearEnd:     optionalInt(cmd, "year-end", yearEnd),
				TotalBudget: optionalFloat(cmd, "budget", budget),
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				p, err := a.Engine.UpdateProgram(ctx, args[0], opts, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "program code")
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&region, "region", "", "region id")
	cmd.Flags().StringVar(&province, "province", "", "province id")
	cmd.Flags().StringVar(&commune, "commune", "", "commune id")
	cmd.Flags().IntVar(&yearStart, "year-start", 0, "first year")
	cmd.Flags().IntVar(&yearEnd, "year-end", 0, "last year")
	cmd.Flags().Float64Var(&budget, "budget", 0, "total budget")
	return cmd
}

func programAccessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "access <program-id>",
		Short: "Show what the caller may edit and fire",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				acc, err := a.Engine.Access(ctx, args[0], c.Role)
				if err != nil {
					return err
				}
				return printJSONOrTable(acc)
			})
		},
	}
}

func transitionCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "transition <program-id> <submit|validate-provincial|visa-regional|unlock>",
		Short: "Fire a lifecycle transition",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := policy.ParseTransition(args[1])
			if err != nil {
				return err
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				res, err := a.Engine.Transition(ctx, args[0], t, c, note)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("%s: %s -> %s\n", res.Program.Code, res.Entry.FromStatus, res.Entry.ToStatus)
				if res.ResolvedRequest != nil {
					fmt.Printf("pending unlock request %s closed as %s\n", res.ResolvedRequest.ID, res.ResolvedRequest.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "note recorded in history")
	return cmd
}

func actionCmd() *cobra.Command {
	act := &cobra.Command{Use: "action", Short: "Manage ledger records"}
	act.AddCommand(actionAddCmd())
	act.AddCommand(actionListCmd())
	act.AddCommand(actionUpdateCmd())
	act.AddCommand(actionDeleteCmd())
	return act
}

func actionAddCmd() *cobra.Command {
	var opts engine.ActionCreateOptions
	var ledger string
	cmd := &cobra.Command{
		Use:   "add <program-id>",
		Short: "Add a record to a ledger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Ledger = domain.Ledger(ledger)
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				rec, err := a.Engine.CreateAction(ctx, args[0], opts, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&ledger, "ledger", "", "FORECAST|CONTRACT|EXECUTED (or CONCERTE|CP|EXECUTE)")
	cmd.Flags().StringVar(&opts.ActionKey, "key", "", "action key")
	cmd.Flags().StringVar(&opts.ActionLabel, "label", "", "action label")
	cmd.Flags().IntVar(&opts.Year, "year", 0, "year")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "unit")
	cmd.Flags().Float64Var(&opts.Physical, "physical", 0, "physical quantity")
	cmd.Flags().Float64Var(&opts.Financial, "financial", 0, "financial amount")
	cmd.Flags().StringVar(&opts.CommuneID, "commune", "", "commune id (program commune when empty)")
	cmd.Flags().StringVar(&opts.PerimeterID, "perimeter", "", "perimeter id")
	cmd.Flags().StringVar(&opts.SiteID, "site", "", "site id")
	cmd.Flags().StringVar(&opts.GeometryType, "geometry-type", "", "geometry type")
	cmd.Flags().StringVar(&opts.Coordinates, "coordinates", "", "coordinates as JSON")
	cmd.Flags().StringSliceVar(&opts.Evidence, "evidence", nil, "evidence reference (repeatable)")
	cmd.Flags().StringVar(&opts.DriftJustification, "drift", "", "drift justification")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "notes")
	cmd.Flags().StringVar(&opts.ExecutedOn, "executed-on", "", "execution date (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("ledger")
	_ = cmd.MarkFlagRequired("key")
	return cmd
}

func actionListCmd() *cobra.Command {
	var q engine.ActionQuery
	var ledger string
	cmd := &cobra.Command{
		Use:   "list <program-id>",
		Short: "List records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q.Ledger = domain.Ledger(ledger)
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListActions(ctx, args[0], q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Ledger", "Action", "Year", "Physical", "Unit", "Financial", "Locked"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Ledger, r.ActionKey, r.Year, r.Physical, r.Unit, r.Financial, r.Locked})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&ledger, "ledger", "", "ledger filter")
	cmd.Flags().IntVar(&q.Year, "year", 0, "year filter")
	cmd.Flags().StringVar(&q.ActionKey, "key", "", "action key filter")
	cmd.Flags().StringVar(&q.CommuneID, "commune", "", "commune filter")
	return cmd
}

func actionUpdateCmd() *cobra.Command {
	var ledger, key, label, unit, commune, notes, drift, executedOn string
	var year int
	var physical, financial float64
	cmd := &cobra.Command{
		Use:   "update <program-id> <action-id>",
		Short: "Update a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ActionUpdateOptions{
				ActionKey:          optionalString(cmd, "key", key),
				ActionLabel:        optionalString(cmd, "label", label),
				Year:               optionalInt(cmd, "year", year),
				Unit:               optionalString(cmd, "unit", unit),
				Physical:           optionalFloat(cmd, "physical", physical),
				Financial:          optionalFloat(cmd, "financial", financial),
				CommuneID:          optionalString(cmd, "commune", commune),
				DriftJustification: optionalString(cmd, "drift", drift),
				Notes:              optionalString(cmd, "notes", notes),
				ExecutedOn:         optionalString(cmd, "executed-on", executedOn),
			}
			if cmd.Flags().Changed("ledger") {
				l := domain.Ledger(ledger)
				opts.Ledger = &l
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				rec, err := a.Engine.UpdateAction(ctx, args[0], args[1], opts, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&ledger, "ledger", "", "move to ledger")
	cmd.Flags().StringVar(&key, "key", "", "action key")
	cmd.Flags().StringVar(&label, "label", "", "action label")
	cmd.Flags().IntVar(&year, "year", 0, "year")
	cmd.Flags().StringVar(&unit, "unit", "", "unit")
	cmd.Flags().Float64Var(&physical, "physical", 0, "physical quantity")
	cmd.Flags().Float64Var(&financial, "financial", 0, "financial amount")
	cmd.Flags().StringVar(&commune, "commune", "", "commune id")
	cmd.Flags().StringVar(&drift, "drift", "", "drift justification")
	cmd.Flags().StringVar(&notes, "notes", "", "notes")
	cmd.Flags().StringVar(&executedOn, "executed-on", "", "execution date (YYYY-MM-DD)")
	return cmd
}

func actionDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <program-id> <action-id>",
		Short: "Delete a record",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				if err := a.Engine.DeleteAction(ctx, args[0], args[1], c); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"deleted": args[1]})
				}
				fmt.Println("deleted", args[1])
				return nil
			})
		},
	}
}

func comparatifCmd() *cobra.Command {
	var q engine.ComparatifQuery
	cmd := &cobra.Command{
		Use:   "comparatif <program-id>",
		Short: "Forecast vs contract vs executed per action",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				res, err := a.Engine.Comparatif(ctx, args[0], q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				renderLines(res.Actions, res.Totals, false)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&q.Year, "year", 0, "restrict to one year")
	cmd.Flags().StringVar(&q.ActionKey, "key", "", "action key filter")
	cmd.Flags().StringVar(&q.CommuneID, "commune", "", "commune filter")
	cmd.AddCommand(pivotCmd())
	return cmd
}

func pivotCmd() *cobra.Command {
	var q engine.ComparatifQuery
	cmd := &cobra.Command{
		Use:   "pivot <program-id>",
		Short: "Comparatif per action and year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Pivot(ctx, args[0], q)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				renderLines(p.Cells, p.Totals, true)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&q.ActionKey, "key", "", "action key filter")
	cmd.Flags().StringVar(&q.CommuneID, "commune", "", "commune filter")
	return cmd
}

func renderLines(lines []comparatif.Line, totals comparatif.Totals, withYear bool) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{"Action"}
	if withYear {
		header = append(header, "Year")
	}
	header = append(header, "Unit", "Forecast", "Contract", "Executed", "% forecast", "% contract", "Status")
	tw.AppendHeader(header)
	for _, l := range lines {
		row := table.Row{l.Label}
		if withYear {
			row = append(row, l.Year)
		}
		row = append(row, l.Unit, l.PlanTotal, l.CPTotal, l.ExecTotal, l.RateExecVsPlan, l.RateExecVsContract, l.Status)
		tw.AppendRow(row)
	}
	footer := table.Row{"Total"}
	if withYear {
		footer = append(footer, "")
	}
	footer = append(footer, "", totals.PlanTotal, totals.CPTotal, totals.ExecTotal, totals.GlobalRate, "", "")
	tw.AppendFooter(footer)
	tw.Render()
}

func historyCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "history <program-id>",
		Short: "Transition history, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				entries, err := a.Engine.ListHistory(ctx, args[0], n)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Actor", "Role", "From", "To", "Note"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.CreatedAt, h.ActorName, h.ActorRole, h.FromStatus, h.ToStatus, h.Note})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	return cmd
}
