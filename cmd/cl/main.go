package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"claimline/internal/app"
	"claimline/internal/config"
	"claimline/internal/domain"
	"claimline/internal/engine"
	"claimline/internal/ledger"
	"claimline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "cl",
	Short: "Claimline CLI",
	Long: `Claimline runs auto insurance claims through a staged agent pipeline.
- Claims move FNOL_SUBMITTED -> FRONTDESK_DONE -> COVERAGE_DONE ->
  ASSESSMENT_DONE -> FRAUD_DONE -> PENDING_REVIEW, then a human decision
  gates FINAL_DECISION_DONE and the payment close (PAID / CLOSED_NO_PAY).
- Every state change lands in a per-claim hash-chained audit ledger
  ('cl ledger show', 'cl ledger verify').
- Agent outputs are schema-validated and judged before a stage advances.
- Claimant contact details and the VIN are encrypted at rest; set the
  key via the env var named in claimline.yml (default CLAIMLINE_PII_KEY).`,
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
	viper.SetEnvPrefix("CLAIMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(claimCmd())
	rootCmd.AddCommand(pipelineCmd())
	rootCmd.AddCommand(decisionCmd())
	rootCmd.AddCommand(financeCmd())
	rootCmd.AddCommand(ledgerCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keysCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default claimline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "id", "claimline", "project id")
	return cmd
}

func claimCmd() *cobra.Command {
	c := &cobra.Command{Use: "claim", Short: "Manage claims"}
	c.AddCommand(claimSubmitCmd())
	c.AddCommand(claimShowCmd())
	c.AddCommand(claimListCmd())
	c.AddCommand(claimPurgeCmd())
	return c
}

func claimSubmitCmd() *cobra.Command {
	var in engine.ClaimIntake
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a first notice of loss",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.SubmitClaim(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&in.PolicyNumber, "policy", "", "policy number")
	cmd.Flags().StringVar(&in.ClaimantName, "name", "", "claimant name")
	cmd.Flags().StringVar(&in.ClaimantEmail, "email", "", "claimant email")
	cmd.Flags().StringVar(&in.ClaimantPhone, "phone", "", "claimant phone")
	cmd.Flags().StringVar(&in.VIN, "vin", "", "vehicle identification number")
	cmd.Flags().StringVar(&in.VehicleMake, "make", "", "vehicle make")
	cmd.Flags().StringVar(&in.VehicleModel, "model", "", "vehicle model")
	cmd.Flags().IntVar(&in.VehicleYear, "year", 0, "vehicle year")
	cmd.Flags().StringVar(&in.DateOfLoss, "date-of-loss", "", "date of loss (YYYY-MM-DD)")
	cmd.Flags().StringVar(&in.LossLocation, "location", "", "loss location")
	cmd.Flags().StringVar(&in.Description, "description", "", "loss description")
	cmd.Flags().StringSliceVar(&in.PhotoKeys, "photo", nil, "damage photo key (repeatable)")
	_ = cmd.MarkFlagRequired("policy")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("description")
	return cmd
}

func claimShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <claim-id>",
		Short: "Show a claim with decrypted view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.Store.GetClaim(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{
					"claim": c,
					"view":  e.View(c),
				})
			})
		},
	}
	return cmd
}

func claimListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List claims",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				claims, err := e.Store.ListClaims(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(claims)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Policy", "Stage", "Date of loss", "Updated"})
				for _, c := range claims {
					tw.AppendRow(table.Row{c.ID, c.PolicyNumber, c.Stage, c.DateOfLoss, c.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func claimPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <claim-id>",
		Short: "Administratively remove a claim, its ledger and runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.PurgeClaim(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("purged %s\n", args[0])
				return nil
			})
		},
	}
	return cmd
}

func pipelineCmd() *cobra.Command {
	p := &cobra.Command{Use: "pipeline", Short: "Run the automated pipeline"}
	p.AddCommand(&cobra.Command{
		Use:   "run <claim-id>",
		Short: "Advance the claim through the automated stages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunPipeline(ctx, args[0], viper.GetString("actor-id"))
				if err != nil && !res.Halted {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "halted: %v\n", err)
				}
				return printJSONOrTable(res)
			})
		},
	})
	return p
}

func decisionCmd() *cobra.Command {
	var approve, deny, runFinance bool
	var amount float64
	var notes string
	d := &cobra.Command{Use: "decision", Short: "Human review decisions"}
	sub := &cobra.Command{
		Use:   "submit <claim-id>",
		Short: "Record the reviewer decision and run the decision stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if approve == deny {
				return fmt.Errorf("exactly one of --approve or --deny is required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor := viper.GetString("actor-id")
				c, err := e.SubmitDecision(ctx, domain.ReviewerDecision{
					ClaimID:        args[0],
					Approved:       approve,
					ApprovedAmount: amount,
					Notes:          notes,
					ReviewerID:     actor,
				}, actor)
				if err != nil {
					return err
				}
				if runFinance {
					res, err := e.RunFinanceStage(ctx, args[0], actor)
					if err != nil && !res.Halted {
						return err
					}
					return printJSONOrTable(map[string]any{"claim": c, "finance": res})
				}
				return printJSONOrTable(c)
			})
		},
	}
	sub.Flags().BoolVar(&approve, "approve", false, "approve the claim")
	sub.Flags().BoolVar(&deny, "deny", false, "deny the claim")
	sub.Flags().Float64Var(&amount, "amount", 0, "approved amount")
	sub.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	sub.Flags().BoolVar(&runFinance, "run-finance", true, "run the payment step after the decision")
	d.AddCommand(sub)
	return d
}

func financeCmd() *cobra.Command {
	f := &cobra.Command{Use: "finance", Short: "Payment close-out"}
	f.AddCommand(&cobra.Command{
		Use:   "run <claim-id>",
		Short: "Run the payment step for a decided claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RunFinanceStage(ctx, args[0], viper.GetString("actor-id"))
				if err != nil && !res.Halted {
					return err
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "halted: %v\n", err)
				}
				return printJSONOrTable(res)
			})
		},
	})
	return f
}

func ledgerCmd() *cobra.Command {
	l := &cobra.Command{Use: "ledger", Short: "Per-claim audit ledger"}
	l.AddCommand(&cobra.Command{
		Use:   "show <claim-id>",
		Short: "Show the full event chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Store.GetEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Type", "Stage", "Hash", "Prev"})
				for _, ev := range events {
					tw.AppendRow(table.Row{ev.EventKey, ev.Type, ev.Stage, short(ev.Hash), short(ev.PrevHash)})
				}
				tw.Render()
				return nil
			})
		},
	})
	l.AddCommand(&cobra.Command{
		Use:   "verify <claim-id>",
		Short: "Recompute and verify the hash chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Store.GetEvents(ctx, args[0])
				if err != nil {
					return err
				}
				if err := ledger.VerifyEvents(events); err != nil {
					return err
				}
				fmt.Printf("ok: %d events, chain verified\n", len(events))
				return nil
			})
		},
	})
	return l
}

func runCmd() *cobra.Command {
	r := &cobra.Command{Use: "run", Short: "Inspect agent runs"}
	r.AddCommand(&cobra.Command{
		Use:   "list <claim-id>",
		Short: "List runs for a claim",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				runs, err := e.Store.GetRunsForClaim(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Agent", "Status", "Error", "Started"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.Agent, run.Status, run.ErrorType, run.StartedAt})
				}
				tw.Render()
				return nil
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its judge report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				run, err := e.Store.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(run)
			})
		},
	})
	r.AddCommand(&cobra.Command{
		Use:   "watch <run-id>",
		Short: "Stream run sub-events until the run finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.WatchRun(ctx, args[0], func(ev domain.RunEvent) error {
					line, err := json.Marshal(ev)
					if err != nil {
						return err
					}
					fmt.Println(string(line))
					return nil
				})
			})
		},
	})
	return r
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.Build(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			if addr == "" {
				addr = rt.Config.Server.Addr
			}
			authCfg := server.AuthConfig{JWTSecret: rt.Config.JWTSecret()}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("%s is required for bearer auth", rt.Config.Server.JWTSecretEnv)
			}
			handler, err := server.New(server.Config{
				Engine:   rt.Engine,
				Keys:     rt.Keys,
				BasePath: basePath,
				Auth:     authCfg,
			})
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
			fmt.Printf("Serving Claimline API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from claimline.yml)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

func keysCmd() *cobra.Command {
	k := &cobra.Command{Use: "keys", Short: "Manage API keys"}
	var actor, name string
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			rt, err := app.Build(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			defer rt.Close()
			key, plaintext, err := issueKey(cmd.Context(), rt, actor, name)
			if err != nil {
				return err
			}
			return printJSONOrTable(map[string]any{
				"id":       key.ID,
				"actor_id": key.ActorID,
				"name":     key.Name,
				"key":      plaintext,
			})
		},
	}
	issue.Flags().StringVar(&actor, "actor", "", "actor the key authenticates as")
	issue.Flags().StringVar(&name, "name", "", "key label")
	k.AddCommand(issue)
	return k
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	rt, err := app.Build(viper.GetString("workspace"))
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt.Engine)
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

func short(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
