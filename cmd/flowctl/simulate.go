package main

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"flow-policy-controller/internal/engine"
	"flow-policy-controller/internal/model"
	"flow-policy-controller/internal/parser"
)

var (
	probesFile   string
	outFile      string
	routableFile string
	workers      int
	maxHosts     uint64
)

func newSimulateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Evaluate packets against the compiled table of each switch",
		Long: `simulate reads a CSV of packets (switch, traffic, src, dst), evaluates each one
against the table its switch would receive and writes the decisions.`,
		RunE: runSimulate,
	}
	cmd.Flags().StringVar(&probesFile, "probes", "", "Packet CSV file with switch, traffic, src and dst columns (required)")
	cmd.Flags().StringVar(&outFile, "out", "results.csv", "Output CSV file for all results")
	cmd.Flags().StringVar(&routableFile, "routable", "routable.csv", "Output CSV file for permitted packets")
	cmd.Flags().IntVarP(&workers, "workers", "w", runtime.NumCPU(), "Number of concurrent workers")
	cmd.Flags().Uint64Var(&maxHosts, "max-hosts", parser.DefaultExpandLimit, "Maximum number of addresses a src or dst CIDR may expand to")
	cmd.MarkFlagRequired("probes")
	return cmd
}

// probeResult carries the CSV line a result came from, for output.
type probeResult struct {
	line int
	model.SimulationResult
}

func runSimulate(cmd *cobra.Command, args []string) error {
	logger := setupLogger(logLevel, logFile)
	slog.SetDefault(logger)
	startTime := time.Now()

	cp, _, err := loadControlPlane(cmd.Context(), nil)
	if err != nil {
		slog.Error("Failed to compile policy", "error", err)
		return err
	}

	f, err := os.Open(probesFile)
	if err != nil {
		slog.Error("Failed to open probe file", "path", probesFile, "error", err)
		return err
	}
	defer f.Close()
	probes, err := parser.ParseProbes(f, maxHosts)
	if err != nil {
		slog.Error("Failed to parse probe file", "error", err)
		return err
	}
	slog.Info("Probes parsed", "count", len(probes))

	evaluators := make(map[model.Role]*engine.Evaluator, len(cp.tables))
	for role, entries := range cp.tables {
		evaluators[role] = engine.NewEvaluator(entries)
	}

	if workers < 1 {
		workers = 1
	}
	tasks := make(chan parser.Probe, workers*100)
	results := make(chan probeResult, workers*100)
	var wg sync.WaitGroup
	var completed uint64

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	var writeErr error
	go func() {
		defer writerWg.Done()
		writeErr = resultWriter(results, outFile, routableFile, &completed)
	}()

	slog.Info("Starting evaluator workers", "count", workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go worker(&wg, i+1, cp, evaluators, tasks, results)
	}

	for _, p := range probes {
		tasks <- p
	}
	close(tasks)

	wg.Wait()
	close(results)
	writerWg.Wait()
	if writeErr != nil {
		slog.Error("Failed to write results", "error", writeErr)
		return writeErr
	}

	slog.Info("Simulation complete", "probes", atomic.LoadUint64(&completed), "duration", time.Since(startTime))
	return nil
}

// worker evaluates probes. A switch without a role binding is denied, as it
// would receive no table at all.
func worker(wg *sync.WaitGroup, id int, cp *controlPlane, evaluators map[model.Role]*engine.Evaluator, tasks <-chan parser.Probe, results chan<- probeResult) {
	defer wg.Done()
	slog.Debug("Worker started", "id", id)
	for probe := range tasks {
		role, err := cp.registry.ResolveRole(probe.Switch)
		var result model.SimulationResult
		if err != nil {
			result = model.SimulationResult{Packet: probe.Packet, Decision: engine.DecisionDeny, Reason: "UNKNOWN_SWITCH"}
		} else {
			result = evaluators[role].Evaluate(probe.Packet)
			result.Role = role
		}
		result.Switch = probe.Switch
		results <- probeResult{line: probe.Line, SimulationResult: result}
	}
	slog.Debug("Worker finished", "id", id)
}

var resultHeader = []string{"line", "switch", "role", "ether_type", "ip_proto", "src", "dst", "decision", "matched_rule_id", "priority", "reason"}

func resultWriter(results <-chan probeResult, outPath, routablePath string, completed *uint64) error {
	// Keep draining so workers never block on a failed writer.
	defer func() {
		for range results {
		}
	}()

	outF, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create output file %s: %w", outPath, err)
	}
	defer outF.Close()

	routableF, err := os.Create(routablePath)
	if err != nil {
		return fmt.Errorf("create routable file %s: %w", routablePath, err)
	}
	defer routableF.Close()

	outWriter := csv.NewWriter(outF)
	routableWriter := csv.NewWriter(routableF)
	outWriter.Write(resultHeader)
	routableWriter.Write(resultHeader)

	for r := range results {
		record := []string{
			strconv.Itoa(r.line),
			string(r.Switch),
			roleString(r.Role),
			fmt.Sprintf("0x%04x", r.Packet.EtherType),
			strconv.Itoa(int(r.Packet.IPProtocol)),
			addrField(r.Packet.Src.IsValid(), r.Packet.Src.String()),
			addrField(r.Packet.Dst.IsValid(), r.Packet.Dst.String()),
			r.Decision,
			r.MatchedRuleID,
			strconv.Itoa(int(r.Priority)),
			r.Reason,
		}
		outWriter.Write(record)
		if r.Decision == engine.DecisionAllow {
			routableWriter.Write(record)
		}
		atomic.AddUint64(completed, 1)
	}

	outWriter.Flush()
	routableWriter.Flush()
	if err := outWriter.Error(); err != nil {
		return err
	}
	return routableWriter.Error()
}

func roleString(r model.Role) string {
	if r.Kind == "" {
		return ""
	}
	return r.String()
}

func addrField(valid bool, s string) string {
	if !valid {
		return ""
	}
	return s
}
