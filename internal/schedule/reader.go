package schedule

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Structural errors. They are returned before any task is written.
var (
	ErrMissingInput      = errors.New("no schedule file provided")
	ErrUnsupportedFormat = errors.New("unsupported schedule file format")
	ErrMalformedSheet    = errors.New("malformed schedule sheet")
	ErrUnreadable        = errors.New("schedule file could not be parsed")
)

// DefaultHeaderRows is the size of the banner region above the grid.
const DefaultHeaderRows = 2

var acceptedExtensions = map[string]bool{
	".xlsx": true,
	".xlsm": true,
}

// CheckFilename validates the upload name before the body is read.
func CheckFilename(filename string) error {
	if strings.TrimSpace(filename) == "" {
		return ErrMissingInput
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !acceptedExtensions[ext] {
		return fmt.Errorf("%q: %w", filepath.Base(filename), ErrUnsupportedFormat)
	}
	return nil
}

// ReadGrid reads the first worksheet and returns its data rows, skipping
// headerRows leading rows. Every returned row has exactly Columns cells.
// Merged cells carry their value in the top-left cell only.
func ReadGrid(filename string, r io.Reader, headerRows int) ([][]string, error) {
	if r == nil {
		return nil, ErrMissingInput
	}
	if err := CheckFilename(filename); err != nil {
		return nil, err
	}
	if headerRows < 0 {
		headerRows = 0
	}

	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets: %w", ErrMalformedSheet)
	}
	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", ErrUnreadable, sheets[0], err)
	}

	width := 0
	for _, row := range raw {
		if len(row) > width {
			width = len(row)
		}
	}
	if width < Columns {
		return nil, fmt.Errorf("sheet %q has %d columns, want %d: %w", sheets[0], width, Columns, ErrMalformedSheet)
	}

	if headerRows >= len(raw) {
		return [][]string{}, nil
	}
	data := raw[headerRows:]
	out := make([][]string, 0, len(data))
	for _, row := range data {
		cells := make([]string, Columns)
		copy(cells, row)
		out = append(out, cells)
	}
	return out, nil
}
