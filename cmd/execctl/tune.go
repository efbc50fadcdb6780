package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/noisefs-labs/execcore/pkg/admin"
)

func newTuneCmd(addr *string) *cobra.Command {
	var (
		reservedThreads  int
		idlePctThreshold int
		hasReserved      bool
		hasIdlePct       bool
	)

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Push a partial adaptive executor tunable update",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := admin.TuneRequest{}
			if hasReserved {
				req.ReservedThreads = &reservedThreads
			}
			if hasIdlePct {
				req.IdlePctThreshold = &idlePctThreshold
			}
			return runTune(*addr, req)
		},
	}
	cmd.Flags().IntVar(&reservedThreads, "reserved-threads", 0, "minimum live worker threads")
	cmd.Flags().IntVar(&idlePctThreshold, "idle-pct-threshold", 0, "idle-exit threshold percentage")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		hasReserved = cmd.Flags().Changed("reserved-threads")
		hasIdlePct = cmd.Flags().Changed("idle-pct-threshold")
	}
	return cmd
}

func runTune(addr string, req admin.TuneRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("execctl: encoding tune request: %w", err)
	}

	resp, err := http.Post(addr+"/tune", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("execctl: requesting tune: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("execctl: tune endpoint returned %s", resp.Status)
	}
	fmt.Println("tunables updated")
	return nil
}
