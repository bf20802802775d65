package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"gridwell/internal/collab"
	"gridwell/internal/config"
	"gridwell/internal/convert"
	"gridwell/internal/db"
	"gridwell/internal/domain"
	"gridwell/internal/engine"
	"gridwell/internal/grids"
	"gridwell/internal/history"
	"gridwell/internal/migrate"
	"gridwell/internal/server"
	gridwellsdk "gridwell/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "gridwell",
	Short: "Gridwell CLI",
	Long: `Gridwell converts schema definitions between formats through a spreadsheet-style
grid, and serves an API for collaborative grid editing.
- Formats: xsd, jsonschema, yaml, relaxng, dtd.
- Grid: one field per row; columns are name, type, required, description, default, constraints.
- convert/validate/detect run locally; grid and session commands talk to a running server.
- serve starts the API; history reads the local change log when it is enabled.`,
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
	viper.SetEnvPrefix("GRIDWELL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("server", "http://127.0.0.1:8087", "API server base URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key for server commands")
	rootCmd.PersistentFlags().String("user-id", "local-user", "user identifier for session commands")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("api-key", rootCmd.PersistentFlags().Lookup("api-key"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(convertCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(detectCmd())
	rootCmd.AddCommand(gridCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(serveCmd())
}

func client() *gridwellsdk.Client {
	c := gridwellsdk.New(viper.GetString("server"))
	c.APIKey = viper.GetString("api-key")
	if cfg, err := config.LoadOptional(viper.GetString("workspace")); err == nil && cfg != nil {
		c.Timeout = time.Duration(cfg.JoinTimeoutSeconds()) * time.Second
	}
	return c
}

func readInput(path string) (string, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printIssues(label string, issues []domain.ValidationIssue) {
	if len(issues) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetTitle(label)
	tw.AppendHeader(table.Row{"Code", "Field", "Message", "Line"})
	for _, issue := range issues {
		line := ""
		if issue.Line > 0 {
			line = fmt.Sprintf("%d", issue.Line)
		}
		tw.AppendRow(table.Row{issue.Code, issue.Field, issue.Message, line})
	}
	tw.Render()
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default gridwell.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
}

func convertCmd() *cobra.Command {
	var in, from string
	var to []string
	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert schema text between formats",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(in)
			if err != nil {
				return err
			}
			e := engine.New()
			fromFormat, err := resolveFormat(e, content, from)
			if err != nil {
				return err
			}
			if len(to) == 0 {
				return fmt.Errorf("--to required")
			}
			grid, err := e.ConvertToGrid(content, fromFormat)
			if err != nil {
				return err
			}
			targets := make([]convert.Format, 0, len(to))
			for _, name := range to {
				f, err := convert.ParseFormat(name)
				if err != nil {
					return err
				}
				targets = append(targets, f)
			}
			res := e.ConvertFromGrid(grid, targets)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			if len(targets) == 1 {
				fmt.Print(res.Outputs[string(targets[0])])
			} else {
				for _, f := range targets {
					fmt.Printf("--- %s ---\n%s\n", f, res.Outputs[string(f)])
				}
			}
			printIssues("Errors", res.Errors)
			printIssues("Warnings", res.Warnings)
			if !res.OK() {
				return fmt.Errorf("conversion finished with errors")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&from, "from", "", "source format (detected when omitted)")
	cmd.Flags().StringSliceVar(&to, "to", nil, "target format(s)")
	return cmd
}

func validateCmd() *cobra.Command {
	var in, format string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate schema text against its format grammar",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(in)
			if err != nil {
				return err
			}
			e := engine.New()
			f, err := resolveFormat(e, content, format)
			if err != nil {
				return err
			}
			res := e.Validate(content, f)
			if viper.GetBool("json") {
				return printJSON(res)
			}
			printIssues("Errors", res.Errors)
			printIssues("Warnings", res.Warnings)
			if !res.IsValid {
				return fmt.Errorf("invalid %s document", f)
			}
			fmt.Printf("valid %s document\n", f)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "input file, - for stdin")
	cmd.Flags().StringVar(&format, "format", "", "format (detected when omitted)")
	return cmd
}

func detectCmd() *cobra.Command {
	var in string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Detect the schema format of a text",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readInput(in)
			if err != nil {
				return err
			}
			e := engine.New()
			f, ok := e.DetectFormat(content)
			if viper.GetBool("json") {
				return printJSON(map[string]any{"format": string(f), "detected": ok})
			}
			if !ok {
				return fmt.Errorf("format not detectable")
			}
			fmt.Println(f)
			return nil
		},
	}
	cmd.Flags().StringVar(&in, "in", "-", "input file, - for stdin")
	return cmd
}

func resolveFormat(e engine.Engine, content, name string) (convert.Format, error) {
	if name != "" {
		return convert.ParseFormat(name)
	}
	f, ok := e.DetectFormat(content)
	if !ok {
		return "", fmt.Errorf("format not given and not detectable")
	}
	return f, nil
}

func gridCmd() *cobra.Command {
	grid := &cobra.Command{Use: "grid", Short: "Manage live grids on a running server"}
	grid.AddCommand(gridCreateCmd())
	grid.AddCommand(gridListCmd())
	grid.AddCommand(gridShowCmd())
	grid.AddCommand(gridExportCmd())
	grid.AddCommand(gridDestroyCmd())
	return grid
}

func gridCreateCmd() *cobra.Command {
	var id, in, format string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a live grid, optionally seeded from a schema file",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := ""
			if in != "" {
				var err error
				content, err = readInput(in)
				if err != nil {
					return err
				}
			}
			info, err := client().CreateGrid(cmd.Context(), id, content, format)
			if err != nil {
				return err
			}
			return printJSONOrTable(info)
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "grid id")
	cmd.Flags().StringVar(&in, "in", "", "schema file to seed from")
	cmd.Flags().StringVar(&format, "format", "", "seed schema format")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func gridListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List live grid ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := client().ListGrids(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(ids)
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func gridShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a live grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := client().GetGrid(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(info)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Field", "Type", "Required", "Description", "Default", "Constraints"})
			for _, row := range info.Grid.Rows {
				for _, cell := range row {
					if cell.FieldName == "" && cell.DataType == "" {
						continue
					}
					tw.AppendRow(table.Row{cell.FieldName, cell.DataType, cell.Required, cell.Description, cell.DefaultValue, cell.Constraints})
				}
			}
			tw.Render()
			fmt.Printf("fields=%d required=%d errors=%d warnings=%d\n",
				info.Stats.FieldCount, info.Stats.RequiredCount, info.Stats.ErrorCount, info.Stats.WarningCount)
			return nil
		},
	}
	return cmd
}

func gridExportCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Export a grid as csv, records, or markup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := client().ExportGrid(cmd.Context(), args[0], format)
			if err != nil {
				return err
			}
			fmt.Print(content)
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "export format: csv, records, markup")
	return cmd
}

func gridDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a live grid",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DestroyGrid(cmd.Context(), args[0])
		},
	}
}

func sessionCmd() *cobra.Command {
	session := &cobra.Command{Use: "session", Short: "Manage collaboration sessions on a running server"}
	session.AddCommand(sessionListCmd())
	session.AddCommand(sessionShowCmd())
	session.AddCommand(sessionJoinCmd())
	session.AddCommand(sessionDestroyCmd())
	return session
}

func sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			sessions, err := client().ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(sessions)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"ID", "Created By", "Created At", "Online"})
			for _, s := range sessions {
				online := 0
				for _, u := range s.ActiveUsers {
					if u.IsOnline {
						online++
					}
				}
				tw.AppendRow(table.Row{s.ID, s.CreatedBy, s.CreatedAt, online})
			}
			tw.Render()
			return nil
		},
	}
}

func sessionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := client().GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(s)
		},
	}
}

func sessionJoinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join <id>",
		Short: "Join a session, creating it on first join",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			users, err := client().JoinSession(cmd.Context(), args[0], viper.GetString("user-id"))
			if err != nil {
				return err
			}
			return printJSONOrTable(users)
		},
	}
}

func sessionDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <id>",
		Short: "Destroy a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return client().DestroySession(cmd.Context(), args[0])
		},
	}
}

func historyCmd() *cobra.Command {
	hist := &cobra.Command{Use: "history", Short: "Read the local collaboration change log"}
	hist.AddCommand(historyChangesCmd())
	hist.AddCommand(historyEventsCmd())
	return hist
}

func withHistoryDB(fn func(conn *history.Writer) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	w := history.Writer{DB: conn}
	return fn(&w)
}

func historyChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes <session-id>",
		Short: "Show a session's recorded changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryDB(func(w *history.Writer) error {
				changes, err := history.ChangesForSession(w.DB, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(changes)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Row", "Col", "User", "Timestamp", "New Value"})
				for _, c := range changes {
					tw.AppendRow(table.Row{c.ID, c.Type, c.Position.Row, c.Position.Col, c.UserID, c.Timestamp, c.NewValue})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func historyEventsCmd() *cobra.Command {
	var after int64
	var limit int
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show recorded session lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withHistoryDB(func(w *history.Writer) error {
				events, err := history.EventsAfter(w.DB, after, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Session", "User"})
				for _, e := range events {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.SessionID, e.UserID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&after, "after", 0, "only events with id greater than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default()
			}
			if addr == "" {
				addr = cfg.Server.Listen
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}

			e := engine.New()
			e.DetectOrder = cfg.DetectOrder()
			collabEngine := collab.NewEngine()

			scfg := server.Config{
				Engine:   e,
				Grids:    grids.NewManager(e),
				Collab:   collabEngine,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:      cfg.Auth.JWTSecret,
					APIKeys:        cfg.Auth.APIKeys,
					AllowAnonymous: cfg.Auth.AllowAnonymous,
				},
			}
			if cfg.History.Enabled {
				hw := cfg.History.Workspace
				if hw == "" {
					hw = workspace
				}
				conn, err := db.Open(db.Config{Workspace: hw})
				if err != nil {
					return err
				}
				defer conn.Close()
				if err := migrate.Migrate(conn); err != nil {
					return err
				}
				collabEngine.Journal = history.Writer{DB: conn}
				scfg.History = conn
			}
			for _, hook := range cfg.Webhooks {
				scfg.Webhooks = append(scfg.Webhooks, server.WebhookConfig{
					Name:   hook.Name,
					URL:    hook.URL,
					Secret: hook.Secret,
					Events: hook.Events,
				})
			}

			handler, err := server.New(scfg)
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
			fmt.Printf("Serving Gridwell API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.listen)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (defaults to config server.base_path)")
	return cmd
}
