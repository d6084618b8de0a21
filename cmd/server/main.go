// Command server runs the storage engine behind the TCP query interface.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/arjunmenon/lsmkv/internal/engine"
	"github.com/arjunmenon/lsmkv/internal/server"
)

func main() {
	var (
		port                string
		dataDir             string
		flushThresholdBytes int
		compactionThreshold int
	)

	rootCmd := &cobra.Command{
		Use:     "server",
		Short:   "Run the lsmkv storage engine behind a TCP query interface",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dataDir, port, flushThresholdBytes, compactionThreshold)
		},
	}

	rootCmd.Flags().StringVar(&port, "port", envOr("PORT", "8080"), "TCP port to listen on")
	rootCmd.Flags().StringVar(&dataDir, "data-dir", envOr("DATA_DIR", "./data"), "data directory for the write-ahead log and SSTables")
	rootCmd.Flags().IntVar(&flushThresholdBytes, "flush-threshold-bytes", 0, "memtable flush threshold in bytes (0 uses the default)")
	rootCmd.Flags().IntVar(&compactionThreshold, "compaction-threshold", 0, "SSTable count that triggers compaction (0 uses the default)")

	rootCmd.AddCommand(statsCmd(&dataDir))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func run(dataDir, port string, flushThresholdBytes, compactionThreshold int) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	eng, err := engine.New(engine.Options{
		DataDir:                     dataDir,
		MemtableFlushThresholdBytes: flushThresholdBytes,
		CompactionThreshold:         compactionThreshold,
	}, log)
	if err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	defer eng.Close()

	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return fmt.Errorf("listen on port %s: %w", port, err)
	}

	srv := server.New(eng, log)

	serveErrCh := make(chan error, 1)
	go func() {
		serveErrCh <- srv.Serve(ln)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info("listening", zap.String("port", port), zap.String("data_dir", dataDir))

	select {
	case <-sigCh:
		log.Info("shutting down")
		ln.Close()
		<-serveErrCh
	case err := <-serveErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
	}
	return nil
}

func statsCmd(dataDir *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Open the engine, print its SSTable list, and write a STATS snapshot to the data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := zap.NewNop()
			eng, err := engine.New(engine.Options{DataDir: *dataDir}, log)
			if err != nil {
				return err
			}
			defer eng.Close()

			stats := eng.Stats()
			fmt.Printf("sstables: %d\n", stats.SSTableCount)
			for _, path := range stats.SSTablePaths {
				fmt.Println(" ", path)
			}
			return engine.WriteStatsSnapshot(*dataDir, stats)
		},
	}
}
