// Command diarytool prints a day's operational event log to the terminal,
// colorized by action severity, as an operator's alternative to /logdiario
// inside the chat itself.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/driverqueue/dispatcher/internal/eventlog"
	"github.com/driverqueue/dispatcher/internal/kvstore"
	"github.com/driverqueue/dispatcher/internal/ops"
)

var (
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "diarytool:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	endpoint := os.Getenv("REDIS_URL")
	if endpoint == "" {
		return fmt.Errorf("REDIS_URL must be set")
	}
	date := time.Now().Format("2006-01-02")
	if len(args) > 0 {
		date = args[0]
	}

	client, err := clientv3.New(clientv3.Config{Endpoints: []string{endpoint}, DialTimeout: 5 * time.Second})
	if err != nil {
		return fmt.Errorf("dial store: %w", err)
	}
	defer client.Close()

	log := ops.New(ops.ParseLevel("warn"))
	events := eventlog.New(kvstore.NewEtcdStore(client), log)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	lines, err := events.ForDate(ctx, date)
	if err != nil {
		return fmt.Errorf("read log for %s: %w", date, err)
	}
	if len(lines) == 0 {
		fmt.Println(yellow(fmt.Sprintf("no events recorded for %s", date)))
		return nil
	}

	for _, line := range lines {
		fmt.Println(colorize(line))
	}
	return nil
}

// colorize highlights lines by their action= tag: failed (raced) claims,
// export failures and timeouts in red, queue enqueues in yellow, everything
// else in green.
func colorize(line string) string {
	switch {
	case strings.Contains(line, "action=claim_failed"),
		strings.Contains(line, "action=export_failed"),
		strings.Contains(line, "action=timeout"):
		return red(line)
	case strings.Contains(line, "action=queue_enqueue"):
		return yellow(line)
	default:
		return green(line)
	}
}
