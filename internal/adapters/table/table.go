// Package table loads and saves the tabular batch input (.csv, .xlsx, .xls),
// finds the product-link column, and writes processing results back as
// additional columns.
package table

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"marketfetch/internal/core/domain"
)

// resultColumns are written back into the table, created when absent.
var resultColumns = []string{
	"row_number", "product_id", "title", "description", "price",
	"availability", "stock_quantity", "images_downloaded", "download_folder",
}

// linkKeywords are the generic column-name hints checked after link/url.
var linkKeywords = []string{"aliexpress", "ebay"}

// contentHints mark a column as the link column when sampled values contain
// one of these.
var contentHints = []string{"aliexpress.com", "ebay.com"}

// ColumnNotFoundError reports a link column that could not be located,
// carrying the available column names for the CLI's re-prompt.
type ColumnNotFoundError struct {
	Name      string
	Available []string
}

func (e *ColumnNotFoundError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("column %q not found in table (available: %s)", e.Name, strings.Join(e.Available, ", "))
	}
	return fmt.Sprintf("could not find link column (available: %s)", strings.Join(e.Available, ", "))
}

// RowLink pairs a product URL with the table row it came from.
type RowLink struct {
	RowIndex int
	URL      string
}

// Table is an in-memory spreadsheet: a header row plus data rows. Rows may be
// ragged; cell access pads on demand.
type Table struct {
	Path    string
	Headers []string
	Rows    [][]string

	linkColumn int
}

// Load reads a table file, dispatching on extension.
func Load(path string) (*Table, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = loadCSV(path)
	case ".xlsx", ".xls":
		records, err = loadExcel(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("error loading table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("table %s is empty", path)
	}

	return &Table{
		Path:       path,
		Headers:    records[0],
		Rows:       records[1:],
		linkColumn: -1,
	}, nil
}

func loadCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	return r.ReadAll()
}

func loadExcel(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheet)
}

// FindLinkColumn locates the column holding product links. Column names
// containing "link" or "url" win first, then the generic keywords, then a
// content sniff over the first few non-empty values of each column.
func (t *Table) FindLinkColumn() (string, bool) {
	for i, h := range t.Headers {
		name := strings.ToLower(h)
		if strings.Contains(name, "link") || strings.Contains(name, "url") {
			t.linkColumn = i
			return h, true
		}
	}
	for i, h := range t.Headers {
		name := strings.ToLower(h)
		for _, kw := range linkKeywords {
			if strings.Contains(name, kw) {
				t.linkColumn = i
				return h, true
			}
		}
	}
	for i, h := range t.Headers {
		if t.columnLooksLikeLinks(i) {
			t.linkColumn = i
			return h, true
		}
	}
	return "", false
}

func (t *Table) columnLooksLikeLinks(col int) bool {
	sampled := 0
	for _, row := range t.Rows {
		if sampled >= 5 {
			break
		}
		v := strings.ToLower(t.cellOf(row, col))
		if v == "" {
			continue
		}
		sampled++
		for _, hint := range contentHints {
			if strings.Contains(v, hint) {
				return true
			}
		}
	}
	return false
}

// SetLinkColumn sets the link column by exact header name.
func (t *Table) SetLinkColumn(name string) error {
	for i, h := range t.Headers {
		if h == name {
			t.linkColumn = i
			return nil
		}
	}
	return &ColumnNotFoundError{Name: name, Available: t.Headers}
}

// HasLinkColumn reports whether a link column has been located.
func (t *Table) HasLinkColumn() bool { return t.linkColumn >= 0 }

// MissingLinkColumn builds the error the caller surfaces when discovery
// failed, listing the available columns.
func (t *Table) MissingLinkColumn() error {
	return &ColumnNotFoundError{Available: t.Headers}
}

// Links returns the non-empty product URLs with their row indices, in
// original row order.
func (t *Table) Links() []RowLink {
	if t.linkColumn < 0 {
		return nil
	}
	var links []RowLink
	for i, row := range t.Rows {
		if v := strings.TrimSpace(t.cellOf(row, t.linkColumn)); v != "" {
			links = append(links, RowLink{RowIndex: i, URL: v})
		}
	}
	return links
}

// FolderNames reads the per-row folder override column. The returned slice
// always has one entry per row; missing column or empty cells yield "".
func (t *Table) FolderNames(column string) []string {
	names := make([]string, len(t.Rows))
	col := -1
	for i, h := range t.Headers {
		if h == column {
			col = i
			break
		}
	}
	if col < 0 {
		return names
	}
	for i, row := range t.Rows {
		names[i] = strings.TrimSpace(t.cellOf(row, col))
	}
	return names
}

// ApplyResults writes the processing results into the result columns, keyed
// by row index. Columns are created when absent, overwritten when present.
func (t *Table) ApplyResults(results []*domain.ProcessingResult) {
	cols := make(map[string]int, len(resultColumns))
	for _, name := range resultColumns {
		cols[name] = t.ensureColumn(name)
	}

	for _, r := range results {
		if r.RowIndex == nil || *r.RowIndex < 0 || *r.RowIndex >= len(t.Rows) {
			continue
		}
		i := *r.RowIndex
		t.setCell(i, cols["row_number"], intCell(r.RowNumber))
		t.setCell(i, cols["product_id"], r.ProductID)
		t.setCell(i, cols["title"], r.Title)
		t.setCell(i, cols["description"], r.Description)
		t.setCell(i, cols["price"], r.Price)
		t.setCell(i, cols["availability"], strconv.FormatBool(r.Available))
		t.setCell(i, cols["stock_quantity"], intCell(r.StockQuantity))
		t.setCell(i, cols["images_downloaded"], strconv.Itoa(r.ImagesDownloaded))
		t.setCell(i, cols["download_folder"], r.Folder)
	}
}

// SaveResults persists the table. An empty outputPath defaults to a sibling
// file with the _results suffix. Returns the path written.
func (t *Table) SaveResults(outputPath string) (string, error) {
	if outputPath == "" {
		ext := filepath.Ext(t.Path)
		stem := strings.TrimSuffix(filepath.Base(t.Path), ext)
		outputPath = filepath.Join(filepath.Dir(t.Path), stem+"_results"+ext)
	}

	var err error
	switch strings.ToLower(filepath.Ext(outputPath)) {
	case ".csv":
		err = t.saveCSV(outputPath)
	case ".xlsx", ".xls":
		err = t.saveExcel(outputPath)
	default:
		err = fmt.Errorf("unsupported file format: %s", filepath.Ext(outputPath))
	}
	if err != nil {
		return "", fmt.Errorf("error saving results: %w", err)
	}
	return outputPath, nil
}

func (t *Table) saveCSV(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(t.Headers); err != nil {
		return err
	}
	for _, row := range t.Rows {
		if err := w.Write(t.paddedRow(row)); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}

func (t *Table) saveExcel(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	if err := f.SetSheetRow(sheet, "A1", &t.Headers); err != nil {
		return err
	}
	for i, row := range t.Rows {
		padded := t.paddedRow(row)
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &padded); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func (t *Table) ensureColumn(name string) int {
	for i, h := range t.Headers {
		if h == name {
			return i
		}
	}
	t.Headers = append(t.Headers, name)
	return len(t.Headers) - 1
}

func (t *Table) cellOf(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return row[col]
}

func (t *Table) setCell(rowIdx, col int, value string) {
	row := t.Rows[rowIdx]
	for len(row) <= col {
		row = append(row, "")
	}
	row[col] = value
	t.Rows[rowIdx] = row
}

func (t *Table) paddedRow(row []string) []string {
	if len(row) >= len(t.Headers) {
		return row[:len(t.Headers)]
	}
	padded := make([]string, len(t.Headers))
	copy(padded, row)
	return padded
}

func intCell(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
