package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/basket/gotodo/internal/schedule"
)

func runImportCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(stderr)
	path := fs.String("file", "", "timetable workbook (.xlsx or .xlsm)")
	headerRows := fs.Int("header-rows", 0, "banner rows above the grid (default from config)")
	jsonOutput := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *path == "" && fs.NArg() == 1 {
		*path = fs.Arg(0)
	}
	if *path == "" || fs.NArg() > 1 {
		fmt.Fprintln(stderr, "usage: gotodo import -file <schedule.xlsx> [-header-rows N] [-json]")
		return 2
	}
	if err := schedule.CheckFilename(*path); err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		return 2
	}

	f, err := os.Open(*path)
	if err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		return 1
	}
	defer f.Close()

	env, err := openLocal()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.Close()

	rows := env.cfg.Import.HeaderRows
	if *headerRows > 0 {
		rows = *headerRows
	}
	importer := schedule.NewImporter(schedule.Config{
		Store:      env.store,
		Logger:     env.logger,
		HeaderRows: rows,
	})
	res, err := importer.Import(ctx, *path, f)
	if err != nil {
		fmt.Fprintf(stderr, "import: %v\n", err)
		if errors.Is(err, schedule.ErrUnreadable) {
			return 1
		}
		return 2
	}

	if *jsonOutput {
		return writeJSONOut(res)
	}
	fmt.Fprintf(stdout, "Imported %s into %s\n", *path, env.cfg.DBPath)
	fmt.Fprintf(stdout, "  batch:    %s\n", res.BatchID)
	fmt.Fprintf(stdout, "  inserted: %d\n", res.Inserted)
	fmt.Fprintf(stdout, "  skipped:  %d (already present)\n", res.Skipped)
	if res.Failed > 0 {
		fmt.Fprintf(stdout, "  failed:   %d (see log)\n", res.Failed)
		return 1
	}
	return 0
}
