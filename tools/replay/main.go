package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.temporal.io/sdk/worker"

	"github.com/humboldt-lab/humboldt/internal/workflows"
)

// replay checks an exported workflow history against the current workflow
// code. It fails on any non-deterministic change, which is what breaks
// in-flight research runs on deploy.
func main() {
	historyPath := flag.String("history", "", "Path to Temporal workflow history JSON (from temporal workflow show --output json)")
	flag.Parse()

	if *historyPath == "" {
		fmt.Fprintln(os.Stderr, "usage: replay -history /path/to/history.json")
		os.Exit(2)
	}

	replayer := worker.NewWorkflowReplayer()
	replayer.RegisterWorkflow(workflows.ResearchWorkflow)
	replayer.RegisterWorkflow(workflows.DeepResearchWorkflow)

	if err := replayer.ReplayWorkflowHistoryFromJSONFile(nil, *historyPath); err != nil {
		log.Fatalf("Replay failed (non-deterministic change or invalid history): %v", err)
	}

	log.Printf("Replay succeeded for %s", *historyPath)
}
