package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	inboxDebounce = 300 * time.Millisecond
	inboxDoneDir  = "imported"
	inboxFailDir  = "rejected"
)

// InboxResult reports one file picked up from the inbox.
type InboxResult struct {
	Path   string
	Result Result
	Err    error
}

// Inbox imports timetable workbooks dropped into a directory. Imported
// files move to imported/, files with structural errors to rejected/.
type Inbox struct {
	dir      string
	importer *Importer
	logger   *slog.Logger
	results  chan InboxResult
}

func NewInbox(dir string, importer *Importer, logger *slog.Logger) *Inbox {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox{
		dir:      dir,
		importer: importer,
		logger:   logger.With("component", "schedule_inbox"),
		results:  make(chan InboxResult, 16),
	}
}

// Results delivers one value per processed file. Values are dropped when
// nobody reads them.
func (in *Inbox) Results() <-chan InboxResult {
	return in.results
}

// Start creates the directory if needed, imports files already present and
// then watches for new ones until ctx is done.
func (in *Inbox) Start(ctx context.Context) error {
	abs, err := filepath.Abs(in.dir)
	if err != nil {
		return fmt.Errorf("inbox dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Errorf("create inbox dir: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	if err := fsw.Add(abs); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch inbox %s: %w", abs, err)
	}
	in.dir = abs

	existing, err := in.scan()
	if err != nil {
		in.logger.Warn("inbox scan failed", "dir", abs, "error", err)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(in.results)
		}()

		for _, path := range existing {
			in.process(ctx, path)
		}

		pending := make(map[string]struct{})
		var timer *time.Timer
		var timerC <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isWorkbook(ev.Name) {
					continue
				}
				if filepath.Dir(ev.Name) != in.dir {
					continue
				}
				pending[ev.Name] = struct{}{}
				if timer == nil {
					timer = time.NewTimer(inboxDebounce)
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(inboxDebounce)
				}
				timerC = timer.C
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				in.logger.Warn("inbox watcher error", "error", err)
			case <-timerC:
				timerC = nil
				paths := make([]string, 0, len(pending))
				for p := range pending {
					paths = append(paths, p)
				}
				clear(pending)
				sort.Strings(paths)
				for _, p := range paths {
					in.process(ctx, p)
				}
			}
		}
	}()
	return nil
}

func (in *Inbox) scan() ([]string, error) {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, ent := range entries {
		if ent.IsDir() || !isWorkbook(ent.Name()) {
			continue
		}
		out = append(out, filepath.Join(in.dir, ent.Name()))
	}
	return out, nil
}

func (in *Inbox) process(ctx context.Context, path string) {
	f, err := os.Open(path)
	if err != nil {
		// Already moved by an earlier event for the same file.
		if os.IsNotExist(err) {
			return
		}
		in.logger.Warn("inbox open failed", "path", path, "error", err)
		return
	}
	res, err := in.importer.Import(ctx, path, f)
	_ = f.Close()

	dest := inboxDoneDir
	if err != nil {
		dest = inboxFailDir
		in.logger.Warn("inbox import rejected", "path", path, "error", err)
	}
	if mvErr := moveInto(path, filepath.Join(in.dir, dest)); mvErr != nil {
		in.logger.Warn("inbox move failed", "path", path, "error", mvErr)
	}

	select {
	case in.results <- InboxResult{Path: path, Result: res, Err: err}:
	default:
	}
}

func moveInto(path, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := filepath.Base(path)
	target := filepath.Join(dir, base)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(base)
		target = filepath.Join(dir, fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, ext), time.Now().UnixNano(), ext))
	}
	return os.Rename(path, target)
}

func isWorkbook(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, "~$") || strings.HasPrefix(base, ".") {
		return false
	}
	return acceptedExtensions[strings.ToLower(filepath.Ext(base))]
}
