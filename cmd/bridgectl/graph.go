package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GratefulDave/stravinsky-sub003/internal/graph"
)

// taskDescription is the on-disk shape bridgectl graph show expects:
// the same fields internal/router.TaskSpec carries, serialized as JSON
// so an operator can hand-author or dump a plan for inspection without
// running the bridge.
type taskDescription struct {
	ID          string   `json:"id"`
	Description string   `json:"description"`
	Kind        string   `json:"kind"`
	Deps        []string `json:"deps,omitempty"`
}

func runGraphShow(cmd *cobra.Command, args []string) error {
	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading graph file %s: %w", args[0], err)
	}

	var tasks []taskDescription
	if err := json.Unmarshal(content, &tasks); err != nil {
		return fmt.Errorf("parsing graph file %s: %w", args[0], err)
	}

	g := graph.New()
	for _, t := range tasks {
		if err := g.AddTask(t.ID, t.Description, t.Kind, t.Deps); err != nil {
			return fmt.Errorf("adding task %q: %w", t.ID, err)
		}
	}

	waves, err := g.Waves()
	if err != nil {
		return fmt.Errorf("computing waves: %w", err)
	}

	fmt.Printf("%d task(s), %d wave(s)\n", g.Size(), len(waves))
	for i, wave := range waves {
		fmt.Printf("wave %d: %v\n", i, wave)
	}
	return nil
}
