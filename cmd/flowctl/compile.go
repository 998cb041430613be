package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"flow-policy-controller/internal/installer"
	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/openflow"
)

var (
	outputFormat string
	flowModDir   string
)

func newCompileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compile",
		Short: "Compile the flow table of every declared role and print it",
		RunE:  runCompile,
	}
	cmd.Flags().StringVar(&outputFormat, "format", "text", "Output format: 'text' or 'json'")
	cmd.Flags().StringVar(&flowModDir, "flowmods", "", "Also write each switch's table as OpenFlow 1.3 flow-mods to <dir>/<switch>.of")
	return cmd
}

func runCompile(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel, logFile)
	slog.SetDefault(logger)
	startTime := time.Now()

	cp, _, err := loadControlPlane(cmd.Context(), nil)
	if err != nil {
		slog.Error("Failed to compile policy", "error", err)
		return err
	}

	if err := writeTables(cmd.OutOrStdout(), outputFormat, cp); err != nil {
		return err
	}
	if flowModDir != "" {
		if err := writeFlowMods(cmd.Context(), flowModDir, cp); err != nil {
			slog.Error("Failed to write flow-mods", "dir", flowModDir, "error", err)
			return err
		}
	}

	slog.Info("Compilation complete", "roles", len(cp.tables), "duration", time.Since(startTime))
	return nil
}

type tableJSON struct {
	Role     string      `json:"role"`
	Switches []string    `json:"switches"`
	Entries  []entryJSON `json:"entries"`
}

type entryJSON struct {
	Priority    uint16 `json:"priority"`
	RuleID      string `json:"rule_id"`
	Match       string `json:"match"`
	Action      string `json:"action"`
	Cookie      string `json:"cookie"`
	Synthesized bool   `json:"synthesized,omitempty"`
}

func writeTables(w io.Writer, format string, cp *controlPlane) error {
	switchesByRole := make(map[model.Role][]string)
	for _, b := range cp.registry.Switches() {
		switchesByRole[b.Role] = append(switchesByRole[b.Role], string(b.Switch))
	}

	switch format {
	case "text":
		for _, role := range cp.registry.Roles() {
			fmt.Fprintf(w, "# %s switches=%v\n", role, switchesByRole[role])
			for _, e := range cp.tables[role] {
				fmt.Fprintln(w, e.String())
			}
			fmt.Fprintln(w)
		}
		return nil
	case "json":
		out := make([]tableJSON, 0, len(cp.tables))
		for _, role := range cp.registry.Roles() {
			t := tableJSON{Role: role.String(), Switches: switchesByRole[role], Entries: []entryJSON{}}
			for _, e := range cp.tables[role] {
				t.Entries = append(t.Entries, entryJSON{
					Priority:    e.Priority,
					RuleID:      e.RuleID,
					Match:       e.Match.String(),
					Action:      string(e.Action),
					Cookie:      fmt.Sprintf("0x%016x", openflow.Cookie(e.RuleID)),
					Synthesized: e.Synthesized,
				})
			}
			out = append(out, t)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// writeFlowMods installs each bound switch's table into a file, as the switch
// would receive it over its OpenFlow channel.
func writeFlowMods(ctx context.Context, dir string, cp *controlPlane) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, b := range cp.registry.Switches() {
		path := filepath.Join(dir, string(b.Switch)+".of")
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		err = installer.Install(ctx, b.Switch, b.Role, openflow.NewSession(f), cp.tables[b.Role])
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		slog.Debug("Wrote flow-mods", "switch", b.Switch, "role", b.Role.String(), "path", path)
	}
	return nil
}
