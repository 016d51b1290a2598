package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/basket/gotodo/internal/cron"
)

func runBackupCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	fs.SetOutput(stderr)
	dir := fs.String("dir", "", "backup directory (default from config)")
	keep := fs.Int("keep", -1, "backups to keep after pruning, 0 keeps all (default from config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: gotodo backup [-dir DIR] [-keep N]")
		return 2
	}

	env, err := openLocal()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.Close()

	cfg := env.cfg.Backup
	if *dir != "" {
		cfg.Dir = *dir
	}
	if *keep >= 0 {
		cfg.Keep = *keep
	}
	sched, err := cron.NewScheduler(cron.Config{
		Store:    env.store,
		Logger:   env.logger,
		Schedule: cfg.Schedule,
		Dir:      cfg.Dir,
		Keep:     cfg.Keep,
	})
	if err != nil {
		fmt.Fprintf(stderr, "backup: %v\n", err)
		return 1
	}
	path, err := sched.RunNow(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "backup: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdout, path)
	return 0
}
