package library

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// catalogHeader is the column order ImportCatalog expects.
var catalogHeader = []string{
	"catalog_code", "call_number", "acquisition_date", "title", "author",
	"publisher", "quantity", "keywords", "editor_id", "theme_id",
}

// ImportFailure is one rejected CSV line.
type ImportFailure struct {
	Line int
	Err  error
}

// ImportReport summarises an import run.
type ImportReport struct {
	Imported []int64
	Failed   []ImportFailure
}

// ImportCatalogFile imports the CSV file at path (relative paths resolve from cwd).
func (lm *LibraryManager) ImportCatalogFile(ctx context.Context, path string) (*ImportReport, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return lm.ImportCatalog(ctx, f)
}

// ImportCatalog reads catalog entries from CSV. The first record must be the
// header. Invalid rows are reported and skipped; only read and store failures
// abort the import.
func (lm *LibraryManager) ImportCatalog(ctx context.Context, r io.Reader) (*ImportReport, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range catalogHeader[:7] {
		if _, ok := cols[want]; !ok {
			return nil, fmt.Errorf("%w: missing column %q", ErrInvalidInput, want)
		}
	}

	report := &ImportReport{}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return report, fmt.Errorf("read csv: %w", err)
		}
		line, _ := cr.FieldPos(0)

		entry, err := parseCatalogRecord(rec, cols)
		if err == nil {
			var id int64
			id, err = lm.AddBook(ctx, entry)
			if err == nil {
				report.Imported = append(report.Imported, id)
				continue
			}
			if IsStoreError(err) {
				return report, err
			}
		}
		lm.log.Warn("catalog row rejected", zap.Int("line", line), zap.Error(err))
		report.Failed = append(report.Failed, ImportFailure{Line: line, Err: err})
	}
	return report, nil
}

func parseCatalogRecord(rec []string, cols map[string]int) (*CatalogEntry, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	acquired, err := ParseDate(field("acquisition_date"))
	if err != nil {
		return nil, fmt.Errorf("%w: acquisition_date: %v", ErrInvalidInput, err)
	}
	qty, err := strconv.Atoi(field("quantity"))
	if err != nil {
		return nil, fmt.Errorf("%w: quantity: %v", ErrInvalidInput, err)
	}

	return &CatalogEntry{
		CatalogCode:     field("catalog_code"),
		CallNumber:      field("call_number"),
		AcquisitionDate: acquired,
		Title:           field("title"),
		Author:          field("author"),
		Publisher:       field("publisher"),
		Quantity:        qty,
		Keywords:        field("keywords"),
		EditorID:        field("editor_id"),
		ThemeID:         field("theme_id"),
	}, nil
}
