package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/basket/gotodo/internal/config"
	"github.com/basket/gotodo/internal/doctor"
)

func runDoctorCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	jsonOutput := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var diag doctor.Diagnosis
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error loading config: %v\n", err)
		diag = doctor.Run(ctx, nil, Version)
	} else {
		diag = doctor.Run(ctx, &cfg, Version)
	}

	if *jsonOutput {
		if code := writeJSONOut(diag); code != 0 {
			return code
		}
	} else {
		printDiagnosis(diag)
	}
	if diag.Failed() {
		return 1
	}
	return 0
}

func printDiagnosis(diag doctor.Diagnosis) {
	fmt.Fprintf(stdout, "gotodo doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(stdout, "System: %s/%s (%s), gotodo %s\n", diag.System.OS, diag.System.Arch, diag.System.Go, diag.System.Version)
	fmt.Fprintln(stdout, "---")

	for _, res := range diag.Results {
		icon := "✅"
		switch res.Status {
		case doctor.StatusFail:
			icon = "❌"
		case doctor.StatusWarn:
			icon = "⚠️ "
		case doctor.StatusSkip:
			icon = "⏩"
		}
		fmt.Fprintf(stdout, "%s %-15s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Fprintf(stdout, "    %s\n", res.Detail)
		}
	}
}
