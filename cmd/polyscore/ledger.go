package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"polyscore/internal/app"
	"polyscore/internal/domain"
	"polyscore/internal/repo"
	"polyscore/internal/server"
)

func resultsCmd() *cobra.Command {
	results := &cobra.Command{
		Use:   "results",
		Short: "Browse the results ledger",
	}

	var filters repo.ResultFilters
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListResults(ctx, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []domain.Result{}
					}
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Player", "State", "Category", "IoU", "Points", "Elapsed", "Ended"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.PlayerID, r.State, r.Category, percentCell(r.Percent), r.PointCount,
						(time.Duration(r.ElapsedMS) * time.Millisecond).String(), r.EndedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filters.PlayerID, "player", "", "filter by player")
	list.Flags().StringVar(&filters.SessionID, "session", "", "filter by session")
	list.Flags().StringVar(&filters.Category, "category", "", "filter by category (perfect, scored, timeout, timeout_partial)")
	list.Flags().IntVar(&filters.Limit, "limit", 50, "max rows")

	var player string
	stats := &cobra.Command{
		Use:   "stats",
		Short: "Summarize a player's attempts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				s, err := rt.Engine.Repo.Stats(ctx, player)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Attempts", "Perfect", "Timed out", "Best", "Mean"})
				tw.AppendRow(table.Row{s.Attempts, s.Perfect, s.TimedOut, scoreCell(s.BestScore), scoreCell(s.MeanScore)})
				tw.Render()
				return nil
			})
		},
	}
	stats.Flags().StringVar(&player, "player", "", "player (default all)")

	results.AddCommand(list, stats)
	return results
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{
		Use:   "log",
		Short: "Read the event log",
	}
	var n int
	var filters repo.EventFilters
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				evts, err := rt.Engine.Repo.LatestEvents(ctx, n, filters)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if evts == nil {
						evts = []domain.Event{}
					}
					return printJSON(evts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Session", "Player", "Payload"})
				for _, e := range evts {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.SessionID, e.PlayerID, e.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&filters.Type, "type", "", "filter by event type")
	tail.Flags().StringVar(&filters.SessionID, "session", "", "filter by session")
	logRoot.AddCommand(tail)
	return logRoot
}

func tokenCmd() *cobra.Command {
	var player string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Sign a player bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("POLYSCORE_JWT_SECRET or --jwt-secret is required")
			}
			tok, err := server.SignToken(secret, cfg.Auth.Issuer, player, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"player_id": player, "token": tok, "expires_in": ttl.String()})
			}
			fmt.Println(tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&player, "player", "", "player id (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("player")
	return cmd
}

func keyCmd() *cobra.Command {
	keys := &cobra.Command{
		Use:   "key",
		Short: "Manage player keys for scripted clients",
	}

	var player, name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a player key (shown once)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				secret, err := newPlayerKey()
				if err != nil {
					return err
				}
				key := domain.PlayerKey{
					ID:        uuid.NewString(),
					PlayerID:  player,
					Name:      name,
					KeyHash:   repo.HashKey(secret),
					CreatedAt: time.Now().UTC().Format(time.RFC3339),
				}
				if err := rt.Engine.Repo.InsertPlayerKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "player_id": key.PlayerID, "key": secret})
				}
				fmt.Printf("key %s for %s\n%s\n(store it now; only its hash is kept)\n", key.ID, key.PlayerID, secret)
				return nil
			})
		},
	}
	create.Flags().StringVar(&player, "player", "", "player id")
	create.Flags().StringVar(&name, "name", "", "label for the key")
	_ = create.MarkFlagRequired("player")

	var listPlayer string
	list := &cobra.Command{
		Use:   "list",
		Short: "List player keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				items, err := rt.Engine.Repo.ListPlayerKeys(ctx, listPlayer)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					if items == nil {
						items = []domain.PlayerKey{}
					}
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Player", "Name", "Created", "Revoked"})
				for _, k := range items {
					revoked := ""
					if k.RevokedAt != nil {
						revoked = *k.RevokedAt
					}
					tw.AppendRow(table.Row{k.ID, k.PlayerID, k.Name, k.CreatedAt, revoked})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&listPlayer, "player", "", "filter by player")

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke a player key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				if err := rt.Engine.Repo.RevokePlayerKey(ctx, args[0], time.Now()); err != nil {
					if err == repo.ErrNotFound {
						return fmt.Errorf("key %s not found or already revoked", args[0])
					}
					return err
				}
				fmt.Println("revoked", args[0])
				return nil
			})
		},
	}

	keys.AddCommand(create, list, revoke)
	return keys
}

func newPlayerKey() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "psk_" + hex.EncodeToString(buf), nil
}

func percentCell(p *int) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%d%%", *p)
}

func scoreCell(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.4f", *v)
}
