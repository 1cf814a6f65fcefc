package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tunnelmesh/chunkloader/internal/chunk"
	"github.com/tunnelmesh/chunkloader/internal/fingerprint"
	"github.com/tunnelmesh/chunkloader/pkg/bytesize"
)

var fingerprintChunked bool

func newFingerprintCmd() *cobra.Command {
	fingerprintCmd := &cobra.Command{
		Use:   "fingerprint <file>...",
		Short: "Print chunk names for files",
		Long: `Print the chunk name of each file. With --chunked each file is cut into
64 KiB chunks and one line is printed per chunk; all-zero chunks are marked.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runFingerprint,
	}
	fingerprintCmd.Flags().BoolVar(&fingerprintChunked, "chunked", false, "fingerprint each 64 KiB chunk separately")
	return fingerprintCmd
}

func runFingerprint(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, path := range args {
		if !fingerprintChunked {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			_, _ = fmt.Fprintf(out, "%s  %s  %s\n", fingerprint.Name(fingerprint.Of(data)), bytesize.Format(int64(len(data))), path)
			continue
		}

		if err := fingerprintChunks(out, path); err != nil {
			return err
		}
	}
	return nil
}

// fingerprintChunks prints one line per SnapshotGranularity chunk of path.
func fingerprintChunks(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, chunk.SnapshotGranularity)
	var offset int64
	for {
		n, err := io.ReadFull(f, buf)
		if n > 0 {
			fp := fingerprint.Of(buf[:n])
			marker := ""
			if _, zero := chunk.IsZero(fp); zero {
				marker = "  zero"
			}
			_, _ = fmt.Fprintf(out, "%s  %s@%d%s\n", fingerprint.Name(fp), path, offset, marker)
			offset += int64(n)
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}
}
