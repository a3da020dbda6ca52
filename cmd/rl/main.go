package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"retainline/internal/app"
	"retainline/internal/config"
	"retainline/internal/db"
	"retainline/internal/domain"
	"retainline/internal/engine"
	"retainline/internal/migrate"
	"retainline/internal/plan"
	"retainline/internal/repo"
	"retainline/internal/risk"
	"retainline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "rl",
	Short: "Retainline CLI",
	Long: `Retainline turns tenant risk signals into retention action plans.
Signals come in per employee and driver; the risk aggregator rolls them up
into an overview, ranked drivers, and department hotspots; a fixed rule
table maps that snapshot onto tasks for HR follow-up.`,
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
	viper.SetEnvPrefix("RETAINLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("tenant", "", "tenant id (overrides config default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("tenant", rootCmd.PersistentFlags().Lookup("tenant"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(deptCmd())
	rootCmd.AddCommand(signalCmd())
	rootCmd.AddCommand(riskCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

// withEngine opens the workspace database, migrates it, resolves the
// active tenant/config, and hands an Engine to fn.
func withEngine(ctx context.Context, fn func(ctx context.Context, tenantID string, e engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	tenantID, cfg, err := app.ResolveTenantAndConfig(ctx, workspace, viper.GetString("tenant"), repo.Repo{DB: conn})
	if err != nil {
		return err
	}
	return fn(ctx, tenantID, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(ctx context.Context, r repo.Repo) error) error {
	conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantInitCmd())
	tenant.AddCommand(tenantCreateCmd())
	tenant.AddCommand(tenantListCmd())
	return tenant
}

func tenantInitCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default retainline.yml for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(id)), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, config.Default(id))
				t, err := e.InitTenant(ctx, id, name, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "tenant name")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListTenants(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func deptCmd() *cobra.Command {
	dept := &cobra.Command{Use: "dept", Short: "Manage departments"}

	var id, nameEn, nameAr string
	add := &cobra.Command{
		Use:   "add",
		Short: "Create or update a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				d := domain.Department{ID: id, TenantID: tenantID, NameEn: nameEn, NameAr: nameAr}
				if err := e.Repo.UpsertDepartment(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	add.Flags().StringVar(&id, "id", "", "department id")
	add.Flags().StringVar(&nameEn, "name-en", "", "English name")
	add.Flags().StringVar(&nameAr, "name-ar", "", "Arabic name")
	_ = add.MarkFlagRequired("id")
	_ = add.MarkFlagRequired("name-en")
	dept.AddCommand(add)

	dept.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.Repo.ListDepartments(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	})
	return dept
}

func signalCmd() *cobra.Command {
	signal := &cobra.Command{Use: "signal", Short: "Manage risk signals"}

	var employee, department, project, grade, driver string
	var score float64
	ingest := &cobra.Command{
		Use:   "ingest",
		Short: "Record one risk signal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				n, err := e.IngestSignals(ctx, tenantID, viper.GetString("actor-id"), []engine.SignalInput{{
					EmployeeID:   employee,
					DepartmentID: department,
					ProjectID:    project,
					Grade:        grade,
					Driver:       driver,
					Score:        score,
				}})
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"ingested": n})
			})
		},
	}
	ingest.Flags().StringVar(&employee, "employee", "", "employee id")
	ingest.Flags().StringVar(&department, "department", "", "department id")
	ingest.Flags().StringVar(&project, "project", "", "project id")
	ingest.Flags().StringVar(&grade, "grade", "", "grade")
	ingest.Flags().StringVar(&driver, "driver", "", "risk driver")
	ingest.Flags().Float64Var(&score, "score", 0, "risk score [0,100]")
	_ = ingest.MarkFlagRequired("employee")
	_ = ingest.MarkFlagRequired("driver")
	_ = ingest.MarkFlagRequired("score")
	signal.AddCommand(ingest)

	var file string
	batch := &cobra.Command{
		Use:   "import",
		Short: "Ingest a JSON array of signals from a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var inputs []struct {
				EmployeeID   string  `json:"employee_id"`
				DepartmentID string  `json:"department_id"`
				ProjectID    string  `json:"project_id"`
				Grade        string  `json:"grade"`
				Driver       string  `json:"driver"`
				Score        float64 `json:"score"`
				RecordedAt   string  `json:"recorded_at"`
			}
			if err := json.Unmarshal(data, &inputs); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				batch := make([]engine.SignalInput, 0, len(inputs))
				for _, in := range inputs {
					batch = append(batch, engine.SignalInput{
						EmployeeID:   in.EmployeeID,
						DepartmentID: in.DepartmentID,
						ProjectID:    in.ProjectID,
						Grade:        in.Grade,
						Driver:       in.Driver,
						Score:        in.Score,
						RecordedAt:   in.RecordedAt,
					})
				}
				n, err := e.IngestSignals(ctx, tenantID, viper.GetString("actor-id"), batch)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"ingested": n})
			})
		},
	}
	batch.Flags().StringVar(&file, "file", "", "JSON file with signals")
	_ = batch.MarkFlagRequired("file")
	signal.AddCommand(batch)

	return signal
}

func riskCmd() *cobra.Command {
	riskRoot := &cobra.Command{Use: "risk", Short: "Inspect aggregated risk"}
	var scope, scopeID string
	addScopeFlags := func(cmd *cobra.Command) {
		cmd.Flags().StringVar(&scope, "scope", "overall", "scope (overall, dept, project, grade)")
		cmd.Flags().StringVar(&scopeID, "scope-id", "", "scope identifier")
	}

	overview := &cobra.Command{
		Use:   "overview",
		Short: "Show the risk overview",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				snap, err := risk.Aggregator{Source: e.Repo}.Aggregate(ctx, tenantID, scope, scopeID)
				if err != nil {
					return err
				}
				if snap.Overview == nil {
					fmt.Println("no signals in scope")
					return nil
				}
				return printJSONOrTable(*snap.Overview)
			})
		},
	}
	addScopeFlags(overview)
	riskRoot.AddCommand(overview)

	drivers := &cobra.Command{
		Use:   "drivers",
		Short: "Show ranked attrition drivers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				snap, err := risk.Aggregator{Source: e.Repo}.Aggregate(ctx, tenantID, scope, scopeID)
				if err != nil {
					return err
				}
				return printJSONOrTable(snap.Drivers)
			})
		},
	}
	addScopeFlags(drivers)
	riskRoot.AddCommand(drivers)

	riskRoot.AddCommand(&cobra.Command{
		Use:   "hotspots",
		Short: "Show department hotspots",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				hotspots, err := e.Repo.Hotspots(ctx, tenantID)
				if err != nil {
					return err
				}
				return printJSONOrTable(hotspots)
			})
		},
	})
	return riskRoot
}

func planCmd() *cobra.Command {
	planRoot := &cobra.Command{Use: "plan", Short: "Generate action plans"}
	var scope, scopeID string

	preview := &cobra.Command{
		Use:   "preview",
		Short: "Show the plans a run would generate, without writing tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				snap, err := risk.Aggregator{Source: e.Repo}.Aggregate(ctx, tenantID, scope, scopeID)
				if err != nil {
					return err
				}
				rules := plan.DefaultRules()
				if e.Config != nil {
					rules = plan.Rules{
						EmergencyHighPct: e.Config.Rules.EmergencyHighPct,
						HotspotAvgRisk:   e.Config.Rules.HotspotAvgRisk,
						MaxActions:       e.Config.Rules.MaxActions,
					}
				}
				return printJSONOrTable(plan.Build(rules, snap.Overview, snap.Drivers, snap.Hotspots))
			})
		},
	}
	preview.Flags().StringVar(&scope, "scope", "overall", "scope (overall, dept, project, grade)")
	preview.Flags().StringVar(&scopeID, "scope-id", "", "scope identifier")
	planRoot.AddCommand(preview)

	generate := &cobra.Command{
		Use:   "generate",
		Short: "Run the pipeline and persist tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				res, err := e.GeneratePlans(ctx, engine.GenerateOptions{
					TenantID: tenantID,
					Scope:    scope,
					ScopeID:  scopeID,
					ActorID:  viper.GetString("actor-id"),
				})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	generate.Flags().StringVar(&scope, "scope", "overall", "scope (overall, dept, project, grade)")
	generate.Flags().StringVar(&scopeID, "scope-id", "", "scope identifier")
	planRoot.AddCommand(generate)

	return planRoot
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Inspect generated tasks"}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.Repo.ListTasks(ctx, tenantID, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "max tasks")
	task.AddCommand(list)
	return task
}

func logCmd() *cobra.Command {
	logRoot := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var limit int
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				items, err := e.Repo.ListEvents(ctx, tenantID, limit, 0)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "max events")
	logRoot.AddCommand(tail)
	return logRoot
}

func apikeyCmd() *cobra.Command {
	apikey := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	var actor, name, raw string
	create := &cobra.Command{
		Use:   "create",
		Short: "Register an API key for an actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				k, err := r.CreateAPIKey(ctx, actor, name, raw)
				if err != nil {
					return err
				}
				return printJSONOrTable(k)
			})
		},
	}
	create.Flags().StringVar(&actor, "actor", "", "actor id the key authenticates as")
	create.Flags().StringVar(&name, "name", "", "key label")
	create.Flags().StringVar(&raw, "key", "", "raw key value to hash and store")
	_ = create.MarkFlagRequired("actor")
	_ = create.MarkFlagRequired("key")
	apikey.AddCommand(create)
	return apikey
}

func serveCmd() *cobra.Command {
	var addr, jwtSecret string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, tenantID string, e engine.Engine) error {
				handler, err := server.New(server.Config{
					Engine:   e,
					BasePath: "/v1",
					Auth:     server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{
					Addr:              addr,
					Handler:           handler,
					ReadHeaderTimeout: 10 * time.Second,
				}
				fmt.Println("listening on", addr)
				return srv.ListenAndServe()
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&jwtSecret, "jwt-secret", "", "HS256 secret; empty runs the API open")
	_ = viper.BindPFlag("jwt-secret", cmd.Flags().Lookup("jwt-secret"))
	return cmd
}

// printJSONOrTable renders v as JSON with --json, otherwise as a table.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice:
		if rv.Len() == 0 {
			fmt.Println("(empty)")
			return nil
		}
		first := reflect.Indirect(rv.Index(0))
		if first.Kind() != reflect.Struct {
			for i := 0; i < rv.Len(); i++ {
				t.AppendRow(table.Row{fmt.Sprintf("%v", rv.Index(i).Interface())})
			}
			break
		}
		header := table.Row{}
		for i := 0; i < first.NumField(); i++ {
			header = append(header, fieldLabel(first.Type().Field(i)))
		}
		t.AppendHeader(header)
		for i := 0; i < rv.Len(); i++ {
			item := reflect.Indirect(rv.Index(i))
			row := table.Row{}
			for j := 0; j < item.NumField(); j++ {
				row = append(row, cellValue(item.Field(j)))
			}
			t.AppendRow(row)
		}
	case reflect.Struct:
		for i := 0; i < rv.NumField(); i++ {
			t.AppendRow(table.Row{fieldLabel(rv.Type().Field(i)), cellValue(rv.Field(i))})
		}
	case reflect.Map:
		for _, key := range rv.MapKeys() {
			t.AppendRow(table.Row{fmt.Sprintf("%v", key.Interface()), cellValue(rv.MapIndex(key))})
		}
	default:
		fmt.Printf("%v\n", v)
		return nil
	}
	t.Render()
	return nil
}

func fieldLabel(f reflect.StructField) string {
	tag := f.Tag.Get("json")
	if tag == "" || tag == "-" {
		return f.Name
	}
	return strings.Split(tag, ",")[0]
}

func cellValue(v reflect.Value) any {
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map, reflect.Slice, reflect.Struct:
		out, err := json.Marshal(v.Interface())
		if err != nil {
			return fmt.Sprintf("%v", v.Interface())
		}
		return string(out)
	}
	return v.Interface()
}
