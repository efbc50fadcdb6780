package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

func newDrainCmd(addr *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Request a graceful shutdown and wait for it to complete",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDrain(*addr, timeout)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for sessions to drain")
	return cmd
}

func runDrain(addr string, timeout time.Duration) error {
	url := fmt.Sprintf("%s/drain?timeout=%s", addr, timeout)
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		return fmt.Errorf("execctl: requesting drain: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("execctl: drain endpoint returned %s", resp.Status)
	}

	var body struct {
		Drained bool `json:"drained"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("execctl: decoding drain response: %w", err)
	}

	bar := progressbar.NewOptions(1,
		progressbar.OptionSetDescription("draining"),
		progressbar.OptionShowCount(),
	)
	_ = bar.Add(1)
	fmt.Println()

	if !body.Drained {
		return fmt.Errorf("execctl: server did not drain within %s", timeout)
	}
	fmt.Println("drained cleanly")
	return nil
}
