package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GratefulDave/stravinsky-sub003/internal/sidecar"
)

func runReplay(cmd *cobra.Command, args []string) error {
	records, err := sidecar.Read(args[0])
	if err != nil {
		return fmt.Errorf("reading sidecar log: %w", err)
	}

	for _, rec := range records {
		fmt.Printf("%s [%s] %s\n", rec.Timestamp.Format("15:04:05.000"), rec.Kind, string(rec.Payload))
	}
	fmt.Printf("%d record(s)\n", len(records))
	return nil
}
