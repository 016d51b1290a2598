package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"

	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/tasks"
)

func runListCommand(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	day := fs.String("day", "", `weekday label such as 星期三, or "today"`)
	status := fs.String("status", "", "pending or completed")
	jsonOutput := fs.Bool("json", false, "print tasks as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 0 {
		fmt.Fprintln(stderr, "usage: gotodo list [-day <label|today>] [-status pending|completed] [-json]")
		return 2
	}

	env, err := openLocal()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer env.Close()

	svc := tasks.NewService(tasks.Config{Store: env.store, Logger: env.logger})
	q, err := svc.QueryFromRequest(*day, *status)
	if err != nil {
		fmt.Fprintf(stderr, "list: %v\n", err)
		return 2
	}
	list, err := svc.List(ctx, q)
	if err != nil {
		fmt.Fprintf(stderr, "list: %v\n", err)
		return 1
	}

	if *jsonOutput {
		if list == nil {
			list = []persistence.Task{}
		}
		return writeJSONOut(list)
	}
	renderTasks(stdout, q, list, colorEnabled(stdout))
	return 0
}

func colorEnabled(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func renderTasks(w io.Writer, q tasks.Query, list []persistence.Task, color bool) {
	if len(list) == 0 {
		fmt.Fprintf(w, "No tasks (%s).\n", q)
		return
	}

	header := lipgloss.NewStyle().Padding(0, 1)
	cell := lipgloss.NewStyle().Padding(0, 1)
	done := cell
	border := lipgloss.NewStyle()
	if color {
		header = header.Bold(true).Foreground(lipgloss.Color("62"))
		done = done.Foreground(lipgloss.Color("240")).Strikethrough(true)
		border = border.Foreground(lipgloss.Color("240"))
	}

	rows := make([][]string, 0, len(list))
	for _, task := range list {
		state := "pending"
		if task.IsCompleted {
			state = "done"
		}
		rows = append(rows, []string{strconv.FormatInt(task.ID, 10), task.Time, task.Content, state})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(border).
		Headers("ID", "TIME", "CONTENT", "STATUS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return header
			}
			if row >= 0 && row < len(list) && list[row].IsCompleted {
				return done
			}
			return cell
		})
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d task(s), %s\n", len(list), q)
}
