package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/saworbit/diffrelay/internal/journal"
	"github.com/saworbit/diffrelay/internal/metrics"
	"github.com/saworbit/diffrelay/internal/version"
	"github.com/saworbit/diffrelay/pkg/bridge"
	"github.com/saworbit/diffrelay/pkg/chunk"
	"github.com/saworbit/diffrelay/pkg/config"
	"github.com/saworbit/diffrelay/pkg/container"
	"github.com/saworbit/diffrelay/pkg/control"
	"github.com/saworbit/diffrelay/pkg/engine"
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "diffrelay",
		Short:   "diffrelay - asynchronous binary diff and patch service",
		Version: version.Version,
	}

	root.AddCommand(newDiffCmd(), newPatchCmd(), newInspectCmd(), newJournalCmd())
	return root
}

func newDiffCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "diff <reference> <current>",
		Short: "Compute a binary delta transforming reference into current",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("output path is required")
			}
			return runDiff(config.LoadFromEnv(), args[0], args[1], out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination path for the patch container")
	return cmd
}

func newPatchCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "patch <reference> <patch>",
		Short: "Reconstruct the current buffer from reference and a patch container",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if out == "" {
				return fmt.Errorf("output path is required")
			}
			return runPatch(config.LoadFromEnv(), args[0], args[1], out)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Destination path for the reconstructed file")
	return cmd
}

func newInspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <patch>",
		Short: "Describe a patch container without applying it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, args[0])
		},
	}
}

func newJournalCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "List recent operations from the journal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadFromEnv()
			if cfg.JournalDir == "" {
				return fmt.Errorf("DIFFRELAY_JOURNAL_DIR is not set")
			}
			return runJournal(cmd, cfg.JournalDir, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records to show")
	return cmd
}

func runDiff(cfg *config.Config, refPath, curPath, outPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	comp, err := container.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg.Engine)
	if err != nil {
		return err
	}

	reference, err := os.ReadFile(refPath)
	if err != nil {
		return fmt.Errorf("read reference: %w", err)
	}
	current, err := os.ReadFile(curPath)
	if err != nil {
		return fmt.Errorf("read current: %w", err)
	}

	stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	svc := bridge.New(bridge.Options{Engine: eng, Workers: cfg.Workers})
	defer svc.Close()

	start := time.Now()
	done := make(chan error, 1)

	err = svc.Diff(current, reference, func(cbErr error, ctrl, diff, extra []byte) {
		if cbErr != nil {
			done <- cbErr
			return
		}
		done <- writeContainer(outPath, &container.File{
			Header: container.Header{
				Engine:     eng.Name(),
				CurrentLen: uint32(len(current)),
				ChunkSize:  cfg.ChunkSizeBytes(),
				TargetRoot: mustRoot(current, cfg.ChunkSizeBytes()),
			},
			Control: ctrl,
			Diff:    diff,
			Extra:   extra,
		}, comp)
	})
	if err != nil {
		return err
	}

	opErr := <-done
	recordOperation(cfg, "diff", opErr, current, reference, outPath, start)
	if opErr != nil {
		return opErr
	}

	log.Printf("[diff] %s -> %s (%d -> patch, engine=%s, compression=%s)",
		refPath, curPath, len(current), eng.Name(), comp)
	return nil
}

func runPatch(cfg *config.Config, refPath, patchPath, outPath string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	reference, err := os.ReadFile(refPath)
	if err != nil {
		return fmt.Errorf("read reference: %w", err)
	}

	pf, err := readContainer(patchPath)
	if err != nil {
		return err
	}

	// The container names the engine that produced it; the configured
	// engine only applies to diff.
	eng, err := engine.New(pf.Header.Engine)
	if err != nil {
		return fmt.Errorf("patch container: %w", err)
	}

	stopMetrics := startMetrics(cfg)
	defer stopMetrics()

	svc := bridge.New(bridge.Options{Engine: eng, Workers: cfg.Workers})
	defer svc.Close()

	start := time.Now()
	done := make(chan error, 1)
	var patched []byte

	err = svc.Patch(pf.Header.CurrentLen, reference, pf.Control, pf.Diff, pf.Extra,
		func(cbErr error, out []byte) {
			if cbErr != nil {
				done <- cbErr
				return
			}
			patched = out
			done <- nil
		})
	if err != nil {
		return err
	}

	opErr := <-done
	if opErr == nil && len(pf.Header.TargetRoot) > 0 {
		opErr = chunk.Verify(patched, pf.Header.ChunkSize, pf.Header.TargetRoot)
	}
	recordOperation(cfg, "patch", opErr, patched, reference, outPath, start)
	if opErr != nil {
		return opErr
	}

	if err := os.WriteFile(outPath, patched, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}

	log.Printf("[patch] %s + %s -> %s (%d bytes, engine=%s)",
		refPath, patchPath, outPath, len(patched), eng.Name())
	return nil
}

func runInspect(cmd *cobra.Command, patchPath string) error {
	pf, err := readContainer(patchPath)
	if err != nil {
		return err
	}

	triples, err := control.Decode(pf.Control)
	if err != nil {
		return err
	}

	var copyTotal, extraTotal int64
	for _, t := range triples {
		copyTotal += int64(t.CopyLen)
		extraTotal += int64(t.ExtraLen)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "engine:       %s\n", pf.Header.Engine)
	fmt.Fprintf(w, "target size:  %d bytes\n", pf.Header.CurrentLen)
	fmt.Fprintf(w, "target root:  %x\n", pf.Header.TargetRoot)
	fmt.Fprintf(w, "chunk size:   %d bytes\n", pf.Header.ChunkSize)
	fmt.Fprintf(w, "triples:      %d (copy %d bytes, extra %d bytes)\n",
		len(triples), copyTotal, extraTotal)
	fmt.Fprintf(w, "sections:     control=%d diff=%d extra=%d bytes\n",
		len(pf.Control), len(pf.Diff), len(pf.Extra))
	return nil
}

func runJournal(cmd *cobra.Command, dir string, limit int) error {
	j, err := journal.Open(dir)
	if err != nil {
		return err
	}
	defer j.Close()

	records, err := j.Recent(limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, rec := range records {
		ts := time.Unix(0, rec.Timestamp).Format(time.RFC3339)
		status := rec.Outcome
		if rec.Error != "" {
			status = fmt.Sprintf("%s (%s)", rec.Outcome, rec.Error)
		}
		fmt.Fprintf(w, "%6d  %s  %-5s  %-8s  in=%d out=%d  %dms\n",
			rec.Seq, ts, rec.Op, status, rec.InputBytes, rec.OutputBytes, rec.DurationMs)
	}
	return nil
}

// startMetrics launches the Prometheus endpoint when configured and returns
// a stop function.
func startMetrics(cfg *config.Config) func() {
	if cfg.MetricsAddr == "" {
		return func() {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr, log.Default()); err != nil {
			log.Printf("[metrics] endpoint stopped: %v", err)
		}
	}()
	return cancel
}

// recordOperation appends a journal record when journaling is enabled.
// Journal failures are logged, not fatal: the operation itself succeeded or
// failed on its own terms.
func recordOperation(cfg *config.Config, op string, opErr error, current, reference []byte, outPath string, start time.Time) {
	if cfg.JournalDir == "" {
		return
	}

	j, err := journal.Open(cfg.JournalDir)
	if err != nil {
		log.Printf("[journal] open failed: %v", err)
		return
	}
	defer j.Close()

	rec := journal.Record{
		Timestamp:  time.Now().UnixNano(),
		Op:         op,
		Outcome:    "ok",
		InputBytes: len(current) + len(reference),
		DurationMs: time.Since(start).Milliseconds(),
	}

	if opErr != nil {
		rec.Outcome = "failed"
		rec.Error = opErr.Error()
	} else {
		if cid, err := journal.CID(current); err == nil {
			rec.CurrentCID = cid
		}
		if cid, err := journal.CID(reference); err == nil {
			rec.ReferenceCID = cid
		}
		if info, err := os.Stat(outPath); err == nil {
			rec.OutputBytes = int(info.Size())
		}
	}

	if err := j.Append(rec); err != nil {
		log.Printf("[journal] append failed: %v", err)
	}
}

func writeContainer(path string, pf *container.File, comp container.Compression) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create patch container: %w", err)
	}

	if err := container.Write(f, pf, comp); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func readContainer(path string) (*container.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open patch container: %w", err)
	}
	defer f.Close()

	return container.Read(f)
}

// mustRoot computes a chunk Merkle root; the only failure mode is an
// internal merkletree error on non-empty input, which cannot happen for the
// fixed-size chunks produced here.
func mustRoot(data []byte, chunkSize int) []byte {
	root, err := chunk.Root(data, chunkSize)
	if err != nil {
		log.Printf("[diff] merkle root computation failed: %v", err)
		return nil
	}
	return root
}
