package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gapforets/internal/app"
	"gapforets/internal/config"
	"gapforets/internal/domain"
	"gapforets/internal/engine"
	"gapforets/internal/engine/auth"
	"gapforets/internal/repo"
	"gapforets/internal/server"
)

func unlockCmd() *cobra.Command {
	u := &cobra.Command{
		Use:   "unlock",
		Short: "Unlock requests",
		Long:  "A locked program returns to DRAFT only when an administrator approves an unlock request or unlocks it directly.",
	}
	u.AddCommand(unlockRequestCmd())
	u.AddCommand(unlockListCmd())
	u.AddCommand(unlockResolveCmd("approve"))
	u.AddCommand(unlockResolveCmd("reject"))
	u.AddCommand(unlockInboxCmd())
	return u
}

func unlockRequestCmd() *cobra.Command {
	var opts engine.UnlockRequestOptions
	cmd := &cobra.Command{
		Use:   "request <program-id>",
		Short: "Ask an administrator to unlock a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				req, err := a.Engine.RequestUnlock(ctx, args[0], opts, c)
				if err != nil {
					return err
				}
				return printJSONOrTable(req)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "why the program must be reopened")
	cmd.Flags().StringVar(&opts.Territory, "territory", "", "requester territory (program territory when empty)")
	return cmd
}

func unlockListCmd() *cobra.Command {
	var f repo.UnlockRequestFilters
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List unlock requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Status = domain.RequestStatus(strings.ToUpper(strings.TrimSpace(status)))
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListUnlockRequests(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Program", "Requester", "Role", "At status", "Status", "Reason"})
				for _, u := range items {
					tw.AppendRow(table.Row{u.ID, u.ProgramID, u.RequesterID, u.RequesterRole, u.StatusAtRequest, u.Status, u.Reason})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "PENDING|APPROVED|REJECTED")
	cmd.Flags().StringVar(&f.ProgramID, "program", "", "program filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max results")
	return cmd
}

func unlockResolveCmd(verb string) *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   verb + " <request-id>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " an unlock request (ADMIN)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				if verb == "reject" {
					req, err := a.Engine.RejectUnlock(ctx, args[0], c, comment)
					if err != nil {
						return err
					}
					return printJSONOrTable(req)
				}
				req, res, err := a.Engine.ApproveUnlock(ctx, args[0], c, comment)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"request": req, "program": res.Program, "entry": res.Entry})
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "resolution comment (required to reject)")
	return cmd
}

func unlockInboxCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "inbox",
		Short: "Recent notifications from the Redis admin inbox",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				inbox, ok := a.Inbox()
				if !ok {
					return errors.New("no redis configured; set notify.redis.addr or --redis-addr")
				}
				events, err := inbox.InboxEvents(ctx, n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	return cmd
}

func actorCmd() *cobra.Command {
	act := &cobra.Command{Use: "actor", Short: "Manage the actor directory"}
	act.AddCommand(actorAddCmd())
	act.AddCommand(actorListCmd())
	return act
}

func actorAddCmd() *cobra.Command {
	var a domain.Actor
	var role string
	cmd := &cobra.Command{
		Use:   "add <actor-id>",
		Short: "Register or update an actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, ok := domain.ParseRole(role)
			if !ok {
				return auth.InvalidRoleError{Role: role}
			}
			a.ID = args[0]
			a.Role = r
			return withApp(cmd.Context(), func(ctx context.Context, ap *app.App) error {
				saved, err := ap.Engine.Actors.UpsertActor(ctx, a)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&role, "as", "", "LOCAL|PROVINCIAL|REGIONAL|ADMIN")
	cmd.Flags().StringVar(&a.Name, "name", "", "display name")
	cmd.Flags().StringVar(&a.Email, "email", "", "email")
	cmd.Flags().StringVar(&a.Territory, "territory", "", "commune, province or region id")
	_ = cmd.MarkFlagRequired("as")
	return cmd
}

func actorListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			var r domain.Role
			if role != "" {
				parsed, ok := domain.ParseRole(role)
				if !ok {
					return auth.InvalidRoleError{Role: role}
				}
				r = parsed
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Actors.ListActors(ctx, r)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Role", "Territory", "Email"})
				for _, x := range items {
					tw.AppendRow(table.Row{x.ID, x.Name, x.Role, x.Territory, x.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&role, "as", "", "role filter")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	k.AddCommand(&cobra.Command{
		Use:   "issue <actor-id> [name]",
		Short: "Issue an API key; the plaintext is shown once",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) == 2 {
				name = args[1]
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if _, err := a.Engine.Actors.Actor(ctx, args[0]); err != nil {
					return err
				}
				key, plain, err := a.Engine.Repo.IssueAPIKey(ctx, args[0], name)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": plain})
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "list <actor-id>",
		Short: "List an actor's API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				keys, err := a.Engine.Repo.ListAPIKeys(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	})
	k.AddCommand(&cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(ctx, args[0])
			})
		},
	})
	return k
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Workspace config (pdfcp.yml)",
		Long:  "pdfcp.yml holds the comparatif tolerance, unlock limits and notification channels. Missing files fall back to defaults.",
	}
	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default pdfcp.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cfg.AddCommand(initCmd)
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate pdfcp.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id (needs PDFCP_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PDFCP_JWT_SECRET is required")
			}
			return withCaller(cmd.Context(), func(ctx context.Context, a *app.App, c auth.Caller) error {
				token, err := server.SignToken(secret, c, ttl)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "token lifetime (0 for none)")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.Open(app.Options{
				Workspace: viper.GetString("workspace"),
				RedisAddr: viper.GetString("redis-addr"),
			})
			if err != nil {
				return err
			}
			defer a.Close()
			authCfg := server.AuthConfig{
				JWTSecret:              viper.GetString("jwt-secret"),
				AllowLegacyActorHeader: legacyHeader,
				Logger:                 a.Logger,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("PDFCP_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: a.Engine, BasePath: basePath, Auth: authCfg, DevLogin: devLogin})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving PDFCP API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local testing only)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-legacy-actor-header", false, "accept X-Actor-Id without credentials")
	return cmd
}
