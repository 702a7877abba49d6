package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gapforets/internal/app"
	"gapforets/internal/db"
	"gapforets/internal/domain"
	"gapforets/internal/engine/auth"
)

var rootCmd = &cobra.Command{
	Use:   "pdfcp",
	Short: "PDFCP lifecycle and comparatif CLI",
	Long: `pdfcp manages communal forest development programs (PDFCP).
Core concepts:
- Program: a multi-year plan for a commune, moving DRAFT -> SUBMITTED_LOCAL -> VALIDATED_PROVINCIAL -> VALIDATED_REGIONAL.
- Ledgers: FORECAST (concerte), CONTRACT (CP) and EXECUTED records per action and year.
- Locks: each status decides which role may edit which ledger; a regional visa freezes everything.
- Unlock requests: a locked program goes back to DRAFT only through an administrator.
- Comparatif: forecast vs contract vs executed per action, with execution rates and a status.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PDFCP")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("role", "", "role for actors missing from the directory (LOCAL, PROVINCIAL, REGIONAL, ADMIN)")
	rootCmd.PersistentFlags().String("redis-addr", "", "redis address for the admin inbox (overrides pdfcp.yml)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("redis-addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
}

func registerCommands() {
	rootCmd.AddCommand(programCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(actionCmd())
	rootCmd.AddCommand(comparatifCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(unlockCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// --- helpers ---

func withApp(ctx context.Context, fn func(context.Context, *app.App) error) error {
	a, err := app.Open(app.Options{
		Workspace: viper.GetString("workspace"),
		RedisAddr: viper.GetString("redis-addr"),
	})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

// withCaller resolves --actor-id through the directory, falling back to --role
// for actors that were never registered.
func withCaller(ctx context.Context, fn func(context.Context, *app.App, auth.Caller) error) error {
	return withApp(ctx, func(ctx context.Context, a *app.App) error {
		id := strings.TrimSpace(viper.GetString("actor-id"))
		c, err := a.Engine.Actors.Caller(ctx, id)
		if err == nil {
			return fn(ctx, a, c)
		}
		if !errors.Is(err, auth.ErrUnknownActor) {
			return err
		}
		roleFlag := viper.GetString("role")
		if roleFlag == "" {
			return fmt.Errorf("actor %s is not registered; add it with pdfcp actor add or pass --role", id)
		}
		role, ok := domain.ParseRole(roleFlag)
		if !ok {
			return auth.InvalidRoleError{Role: roleFlag}
		}
		return fn(ctx, a, auth.Caller{ID: id, Role: role})
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func optionalString(cmd *cobra.Command, flag, value string) *string {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func optionalInt(cmd *cobra.Command, flag string, value int) *int {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}

func optionalFloat(cmd *cobra.Command, flag string, value float64) *float64 {
	if !cmd.Flags().Changed(flag) {
		return nil
	}
	return &value
}
