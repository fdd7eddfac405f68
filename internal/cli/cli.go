package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ignatij/flowplan/internal/config"
	internal_http "github.com/ignatij/flowplan/internal/http"
	"github.com/ignatij/flowplan/internal/log"
	internal_storage "github.com/ignatij/flowplan/internal/storage"
	"github.com/ignatij/flowplan/pkg/compiler"
	"github.com/ignatij/flowplan/pkg/models"
	"github.com/ignatij/flowplan/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// SetupCLI registers every flowplan command on rootCmd.
func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("config", "", "Config file (default ./flowplan.yaml)")
	rootCmd.PersistentFlags().String("db", "", "Database connection string (overrides db.url and DB_* env vars)")
	rootCmd.SilenceUsage = true

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return internal_http.StartServer(ctx, cfg, store)
		},
	}

	dispatchCmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Claim and render due content plans once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := setup(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			limit, _ := cmd.Flags().GetInt("limit")
			if limit <= 0 {
				limit = cfg.Dispatch.Limit
			}
			report, err := internal_http.NewDispatcher(cfg, store).DispatchBatch(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	dispatchCmd.Flags().Int("limit", 0, "Maximum plans to claim (default dispatch.limit)")

	compileCmd := &cobra.Command{
		Use:   "compile [file]",
		Short: "Compile a board file (JSON or YAML) and print the definition and issues",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			return compileBoardFile(cmd.OutOrStdout(), args[0], name)
		},
	}
	compileCmd.Flags().String("name", "", "Definition name (default file name)")

	plansCmd := &cobra.Command{
		Use:   "plans",
		Short: "Manage content plans",
	}
	requeueCmd := &cobra.Command{
		Use:   "requeue [id]",
		Short: "Move a failed plan back to scheduled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := setup(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			svc := service.NewPlanService(store, log.GetLogger())
			if err := svc.RequeuePlan(args[0]); err != nil {
				log.GetLogger().Errorf("Failed to requeue plan: %v", err)
				return errors.Wrapf(err, "requeue plan %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued plan %s\n", args[0])
			return nil
		},
	}
	plansCmd.AddCommand(requeueCmd)

	workflowsCmd := &cobra.Command{
		Use:   "workflows",
		Short: "Manage workflows",
	}
	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := setup(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			svc := service.NewWorkflowService(store, compiler.New(), log.GetLogger())
			return createWorkflow(cmd.OutOrStdout(), svc, args[0])
		},
	}
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := setup(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			svc := service.NewWorkflowService(store, compiler.New(), log.GetLogger())
			return listWorkflows(cmd.OutOrStdout(), svc)
		},
	}
	workflowsCmd.AddCommand(createCmd, listCmd)

	rootCmd.AddCommand(serveCmd, dispatchCmd, compileCmd, plansCmd, workflowsCmd)
}

// setup loads config, applies logging settings and opens the store.
func setup(cmd *cobra.Command) (config.Config, *internal_storage.PostgresStore, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return cfg, nil, err
	}
	log.Configure(cfg.Log.Level, cfg.Log.Format)

	connStr, _ := cmd.Flags().GetString("db")
	if connStr == "" {
		connStr, err = cfg.DatabaseURL()
		if err != nil {
			return cfg, nil, err
		}
	}
	store, err := internal_storage.InitStore(connStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		return cfg, nil, err
	}
	return cfg, store, nil
}

func compileBoardFile(out io.Writer, path, name string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read board file")
	}
	board, err := parseBoard(raw, filepath.Ext(path))
	if err != nil {
		return errors.Wrapf(err, "parse board file %s", path)
	}
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	def := compiler.New().Compile(board, name)
	issues := compiler.Check(board)
	if issues == nil {
		issues = []compiler.Issue{}
	}
	for _, issue := range issues {
		log.GetLogger().Warnf("Board issue: %s", issue)
	}
	return printJSON(out, service.SaveBoardResult{Definition: def, Issues: issues})
}

// parseBoard accepts JSON or YAML. YAML documents are converted to JSON first
// so node configs keep their raw JSON form.
func parseBoard(raw []byte, ext string) (models.Board, error) {
	var board models.Board
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return board, err
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return board, err
		}
		raw = converted
	}
	if err := json.Unmarshal(raw, &board); err != nil {
		return board, err
	}
	return board, nil
}

func createWorkflow(out io.Writer, svc *service.WorkflowService, name string) error {
	id, err := svc.CreateWorkflow(name)
	if err != nil {
		log.GetLogger().Errorf("Failed to create workflow: %v", err)
		return errors.Wrap(err, "failed to create workflow")
	}
	fmt.Fprintf(out, "Created workflow '%s' with ID %d\n", name, id)
	return nil
}

func listWorkflows(out io.Writer, svc *service.WorkflowService) error {
	workflows, err := svc.ListWorkflows()
	if err != nil {
		log.GetLogger().Errorf("Failed to list workflows: %v", err)
		return errors.Wrap(err, "failed to list workflows")
	}
	if len(workflows) == 0 {
		fmt.Fprintf(out, "No workflows found.\n")
		return nil
	}
	fmt.Fprintf(out, "Workflows:\n")
	for _, wf := range workflows {
		fmt.Fprintf(out, "- ID: %d, Name: %s, Created: %s\n",
			wf.ID, wf.Name, wf.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute runs rootCmd with a background context.
func Execute(rootCmd *cobra.Command) error {
	return rootCmd.ExecuteContext(context.Background())
}
