package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/noisefs-labs/execcore/pkg/admin"
)

func newStatsCmd(addr *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print the server's current executor/compression stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := fetchStats(*addr)
			if err != nil {
				return err
			}
			printStatsTable(doc)
			return nil
		},
	}
}

func fetchStats(addr string) (*admin.StatsDocument, error) {
	resp, err := http.Get(addr + "/stats")
	if err != nil {
		return nil, fmt.Errorf("execctl: fetching stats: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execctl: stats endpoint returned %s", resp.Status)
	}

	var doc admin.StatsDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("execctl: decoding stats response: %w", err)
	}
	return &doc, nil
}

// printStatsTable renders doc as a colorized key/value table, disabling
// color when stdout isn't a terminal (e.g. piped into a log collector).
func printStatsTable(doc *admin.StatsDocument) {
	useColor := term.IsTerminal(int(os.Stdout.Fd()))
	label := func(s string) string {
		if useColor {
			return color.New(color.FgCyan, color.Bold).Sprint(s)
		}
		return s
	}

	st := doc.Executor
	fmt.Printf("%s: %s\n", label("executor"), st.Executor)
	fmt.Printf("%s: %d\n", label("threadsRunning"), st.ThreadsRunning)
	fmt.Printf("%s: %d\n", label("threadsInUse"), st.ThreadsInUse)
	fmt.Printf("%s: %d\n", label("threadsPending"), st.ThreadsPending)
	fmt.Printf("%s: %d\n", label("tasksQueued"), st.TasksQueued)
	fmt.Printf("%s: %d\n", label("deferredTasksQueued"), st.DeferredTasksQueued)
	fmt.Printf("%s: %d\n", label("totalQueued"), st.TotalQueued)
	fmt.Printf("%s: %d\n", label("totalExecuted"), st.TotalExecuted)
	fmt.Printf("%s:\n", label("threadsStartedBy"))
	fmt.Printf("  stuckDetection: %d\n", st.ThreadsStartedBy.StuckDetection)
	fmt.Printf("  starvation: %d\n", st.ThreadsStartedBy.Starvation)
	fmt.Printf("  reserveMinimum: %d\n", st.ThreadsStartedBy.ReserveMinimum)

	if len(doc.Compression) > 0 {
		fmt.Printf("%s:\n", label("compression"))
		for name, c := range doc.Compression {
			fmt.Printf("  %s: compressor(in=%d out=%d) decompressor(in=%d out=%d)\n",
				name, c.Compressor.BytesIn, c.Compressor.BytesOut, c.Decompressor.BytesIn, c.Decompressor.BytesOut)
		}
	}
}
