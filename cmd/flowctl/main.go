package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"flow-policy-controller/internal/controller"
	"flow-policy-controller/internal/engine"
	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/parser"
	"flow-policy-controller/internal/policy"
	"flow-policy-controller/internal/registry"
)

var (
	configFile   string
	ruleProvider string
	rulesFile    string
	rulesDB      string
	logLevel     string
	logFile      string
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowctl",
		Short: "Compile and install role-based flow policy on SDN switches",
		Long: `flowctl classifies every switch into a role, compiles the global access policy
into an ordered flow table per role and installs it when the switch connects.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Topology YAML file with hosts, roles and switches (required)")
	rootCmd.PersistentFlags().StringVar(&ruleProvider, "provider", "yaml", "Policy provider: 'yaml', 'fortigate' or 'mariadb'")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "FortiGate configuration file (for 'fortigate' provider)")
	rootCmd.PersistentFlags().StringVar(&rulesDB, "db", "", "Database connection string (for 'mariadb' provider)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Log file path (default: stderr)")
	rootCmd.MarkPersistentFlagRequired("config")

	rootCmd.AddCommand(newCompileCmd(), newSimulateCmd(), newServeCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger(level, logFilePath string) *slog.Logger {
	var logWriter io.Writer = os.Stderr
	if logFilePath != "" {
		f, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			logWriter = f
		}
		// The logger is not set up yet; fall back to stderr silently.
	}

	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "INFO":
		lvl = slog.LevelInfo
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(logWriter, &slog.HandlerOptions{Level: lvl}))
}

// loadPolicy returns the global rule set from the selected provider. The yaml
// provider reads the policy section of the topology file.
func loadPolicy(provider string, topo *parser.Topology, rulesPath, dbConnStr string) ([]model.PolicyRule, error) {
	switch provider {
	case "yaml":
		if topo == nil || len(topo.Rules) == 0 {
			return nil, fmt.Errorf("topology file has no policy section for yaml provider")
		}
		return topo.Rules, nil
	case "fortigate":
		if rulesPath == "" {
			return nil, fmt.Errorf("rules file path must be provided for fortigate provider")
		}
		file, err := os.Open(rulesPath)
		if err != nil {
			return nil, err
		}
		defer file.Close()
		p := parser.NewFortiGateParser(file)
		if err := p.Parse(); err != nil {
			return nil, err
		}
		return p.Rules()
	case "mariadb":
		if dbConnStr == "" {
			return nil, fmt.Errorf("database connection string must be provided for mariadb provider")
		}
		p, err := parser.NewMariaDBParser(dbConnStr)
		if err != nil {
			return nil, err
		}
		defer p.Close()
		if err := p.Parse(); err != nil {
			return nil, err
		}
		return p.Rules()
	default:
		return nil, fmt.Errorf("unknown rule provider: %s", provider)
	}
}

// controlPlane is the loaded configuration shared by every command.
type controlPlane struct {
	registry *registry.Registry
	compiler *engine.Compiler
	tables   map[model.Role][]model.CompiledEntry
}

// loadControlPlane loads topology and policy and compiles every declared role.
// Any configuration problem is returned before a table is used.
func loadControlPlane(ctx context.Context, observer controller.Observer) (*controlPlane, *controller.Manager, error) {
	slog.Info("Loading topology", "path", configFile)
	topo, err := parser.LoadTopologyFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load topology: %w", err)
	}
	reg, err := topo.Registry()
	if err != nil {
		return nil, nil, fmt.Errorf("build role registry: %w", err)
	}

	slog.Info("Loading policy", "provider", ruleProvider)
	rules, err := loadPolicy(ruleProvider, topo, rulesFile, rulesDB)
	if err != nil {
		return nil, nil, fmt.Errorf("load policy: %w", err)
	}
	pol, err := policy.New(rules)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("Policy loaded", "rules", pol.Len(), "roles", len(reg.Roles()), "switches", len(reg.Switches()))

	compiler := engine.NewCompiler(reg, pol)
	manager := controller.NewManager(reg, compiler, observer)
	tables, err := manager.Precompile(ctx)
	if err != nil {
		return nil, nil, err
	}
	return &controlPlane{registry: reg, compiler: compiler, tables: tables}, manager, nil
}
