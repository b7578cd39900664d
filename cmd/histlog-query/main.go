// histlog-query is a small CLI client for a running histlogd, talking
// JSON-RPC over its Unix socket.
package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/histlog/internal/model"
	"github.com/tinytelemetry/histlog/internal/socketrpc"
)

func main() {
	var (
		socketPath = flag.String("socket", socketrpc.DefaultSocketPath(), "histlogd Unix socket path")
		since      = flag.String("since", "", "scan horizon (RFC 3339 or Unix epoch seconds)")
		until      = flag.String("until", "", "upper time bound (RFC 3339 or Unix epoch seconds)")
		classes    = flag.String("classes", "", "comma-separated class names (default all)")
		limit      = flag.Int("limit", 0, "maximum records to return")
		showPaths  = flag.Bool("paths", false, "list log file paths covering the horizon instead of records")
		showStats  = flag.Bool("stats", false, "print cache statistics and exit")
	)
	flag.Parse()

	client, err := socketrpc.Dial(*socketPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	switch {
	case *showStats:
		err = printStats(client)
	case *showPaths:
		err = printPaths(client, *since)
	default:
		err = printLogs(client, *since, *until, *classes, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printStats(client *socketrpc.Client) error {
	stats, err := client.Stats()
	if err != nil {
		return err
	}
	fmt.Printf("logfiles:      %d\n", stats.NumLogfiles)
	fmt.Printf("cached lines:  %d\n", stats.NumCachedLogMessages)
	if !stats.LastIndexUpdate.IsZero() {
		fmt.Printf("last rescan:   %s\n", stats.LastIndexUpdate.Format(time.RFC3339))
	}
	return nil
}

func printPaths(client *socketrpc.Client, since string) error {
	horizon, err := parseTime(since)
	if err != nil {
		return err
	}
	res, err := client.PathsSince(horizon)
	if err != nil {
		return err
	}
	for _, p := range res.Paths {
		fmt.Println(p)
	}
	if res.Skipped != "" {
		fmt.Printf("# first skipped: %s\n", res.Skipped)
	}
	return nil
}

func printLogs(client *socketrpc.Client, since, until, classes string, limit int) error {
	q := model.LogQuery{Limit: limit}
	var err error
	if q.Since, err = parseTime(since); err != nil {
		return err
	}
	if q.Until, err = parseTime(until); err != nil {
		return err
	}
	if classes != "" {
		q.Classes = strings.Split(classes, ",")
	}

	records, err := client.QueryLogs(q)
	if err != nil {
		return err
	}
	for _, r := range records {
		if r.Kind != "" {
			fmt.Printf("%s  %-12s  %s: %s\n", r.Timestamp.Format(time.RFC3339), r.Class, r.Kind, r.Text)
		} else {
			fmt.Printf("%s  %-12s  %s\n", r.Timestamp.Format(time.RFC3339), r.Class, r.Text)
		}
	}
	return nil
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if epoch, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: %w", value, err)
	}
	return t, nil
}
