package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tunnelmesh/chunkloader/internal/chunk"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
)

var (
	fetchOutDir string
	fetchLocal  []string
)

func newFetchCmd() *cobra.Command {
	fetchCmd := &cobra.Command{
		Use:   "fetch <name>...",
		Short: "Fetch chunks by name",
		Long: `Fetch one or more chunks by their 32 character hex name.

Chunks are fetched in parallel. With --out each chunk is written to a file
named after it; otherwise a summary is printed. The command fails if any
chunk cannot be found.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFetch,
	}
	fetchCmd.Flags().StringVarP(&fetchOutDir, "out", "o", "", "directory to write fetched chunks to")
	fetchCmd.Flags().StringSliceVar(&fetchLocal, "local", nil, "additional local cache directory (repeatable)")
	return fetchCmd
}

func runFetch(cmd *cobra.Command, args []string) error {
	fps, err := parseNames(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(fetchLocal)
	if err != nil {
		return err
	}
	l, err := buildLoader(cfg, nil)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chunks, err := l.FetchAllChunks(ctx, fps)
	if err != nil {
		return fmt.Errorf("fetch chunks: %w", err)
	}

	if fetchOutDir != "" {
		if err := writeChunks(fetchOutDir, chunks); err != nil {
			return err
		}
	}

	return printFetchSummary(cmd, fps, chunks)
}

// parseNames converts chunk names to fingerprints, keeping argument order.
func parseNames(names []string) ([]fingerprint.Fingerprint, error) {
	fps := make([]fingerprint.Fingerprint, 0, len(names))
	for _, name := range names {
		fp, err := fingerprint.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("invalid chunk name %q: %w", name, err)
		}
		fps = append(fps, fp)
	}
	return fps, nil
}

// writeChunks stores each chunk in dir under its name.
func writeChunks(dir string, chunks map[fingerprint.Fingerprint]*chunk.Chunk) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for fp, c := range chunks {
		path := filepath.Join(dir, fingerprint.Name(fp))
		if err := os.WriteFile(path, c.Payload(), 0644); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}
	return nil
}

func printFetchSummary(cmd *cobra.Command, fps []fingerprint.Fingerprint, chunks map[fingerprint.Fingerprint]*chunk.Chunk) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "NAME\tSIZE\tSTATUS")

	missing := 0
	printed := make(map[fingerprint.Fingerprint]bool, len(fps))
	for _, fp := range fps {
		if printed[fp] {
			continue
		}
		printed[fp] = true

		c, ok := chunks[fp]
		if !ok {
			missing++
			_, _ = fmt.Fprintf(w, "%s\t-\tmissing\n", fingerprint.Name(fp))
			continue
		}
		status := "ok"
		if _, zero := chunk.IsZero(fp); zero {
			status = "zero"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", fingerprint.Name(fp), bytesize.Format(int64(c.Len())), status)
	}
	_ = w.Flush()

	if missing > 0 {
		return fmt.Errorf("%d of %d chunks not found", missing, len(printed))
	}
	return nil
}
