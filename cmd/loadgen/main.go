// Command loadgen drives a concurrent workload of INSERT/SELECT/DELETE
// statements against a running server over the wire protocol.
package main

import (
	"bufio"
	"fmt"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	var (
		addr        string
		connections int
		duration    time.Duration
		valueBytes  int
		keySpace    int
	)

	rootCmd := &cobra.Command{
		Use:     "loadgen",
		Short:   "Generate concurrent INSERT/SELECT/DELETE load against a lsmkv server",
		Version: "0.1.0",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(addr, connections, duration, valueBytes, keySpace)
		},
	}

	rootCmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "server address to connect to")
	rootCmd.Flags().IntVar(&connections, "connections", 8, "number of concurrent workers")
	rootCmd.Flags().DurationVar(&duration, "duration", 10*time.Second, "how long to run the workload")
	rootCmd.Flags().IntVar(&valueBytes, "value-bytes", 32, "size of generated INSERT values")
	rootCmd.Flags().IntVar(&keySpace, "key-space", 10000, "number of distinct keys to generate against")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type stats struct {
	inserts, selects, deletes, errors int64
}

func run(addr string, connections int, duration time.Duration, valueBytes, keySpace int) error {
	runID := uuid.NewString()[:8]
	fmt.Printf("loadgen run %s: %d workers against %s for %s\n", runID, connections, addr, duration)

	var s stats
	deadline := time.Now().Add(duration)

	var wg sync.WaitGroup
	for i := 0; i < connections; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			if err := workerLoop(addr, worker, deadline, valueBytes, keySpace, &s); err != nil {
				fmt.Fprintf(os.Stderr, "worker %d: %v\n", worker, err)
			}
		}(i)
	}
	wg.Wait()

	fmt.Printf("done: inserts=%d selects=%d deletes=%d errors=%d\n",
		atomic.LoadInt64(&s.inserts), atomic.LoadInt64(&s.selects), atomic.LoadInt64(&s.deletes), atomic.LoadInt64(&s.errors))
	return nil
}

func workerLoop(addr string, worker int, deadline time.Time, valueBytes, keySpace int, s *stats) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	rng := rand.New(rand.NewSource(int64(worker) + time.Now().UnixNano()))
	reader := bufio.NewReader(conn)

	for time.Now().Before(deadline) {
		key := fmt.Sprintf("loadgen-%d", rng.Intn(keySpace))

		var stmt string
		switch rng.Intn(3) {
		case 0:
			stmt = fmt.Sprintf("INSERT INTO the_table (%s) VALUES (%s);\n", key, randomValue(rng, valueBytes))
		case 1:
			stmt = fmt.Sprintf("SELECT %s FROM the_table;\n", key)
		default:
			stmt = fmt.Sprintf(`DELETE FROM the_table WHERE key = "%s";`+"\n", key)
		}

		if _, err := conn.Write([]byte(stmt)); err != nil {
			atomic.AddInt64(&s.errors, 1)
			return fmt.Errorf("write: %w", err)
		}
		if _, err := readResponse(reader); err != nil {
			atomic.AddInt64(&s.errors, 1)
			return fmt.Errorf("read: %w", err)
		}

		switch {
		case stmt[0] == 'I':
			atomic.AddInt64(&s.inserts, 1)
		case stmt[0] == 'S':
			atomic.AddInt64(&s.selects, 1)
		default:
			atomic.AddInt64(&s.deletes, 1)
		}

		// The server closes the connection after one response, matching
		// its one-request-per-connection contract, so redial for the
		// next statement.
		conn.Close()
		conn, err = net.Dial("tcp", addr)
		if err != nil {
			return fmt.Errorf("redial: %w", err)
		}
		reader = bufio.NewReader(conn)
	}
	return nil
}

func readResponse(r *bufio.Reader) (string, error) {
	buf, err := io.ReadAll(r)
	if err != nil && len(buf) == 0 {
		return "", err
	}
	return string(buf), nil
}

func randomValue(rng *rand.Rand, n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return string(buf)
}
