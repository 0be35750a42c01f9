package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/DachengChen/sqlpilot/backend"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// SheetName is the worksheet holding an exported result.
const SheetName = "SQL Result"

// FileName is the export file name for a format on a given day (UTC).
func FileName(format string, now time.Time) string {
	return fmt.Sprintf("sql_result_%s.%s", now.UTC().Format("2006-01-02"), format)
}

// CSV renders rs as the header line followed by one line per row. Cells are
// joined with commas as they are; nothing is quoted and there is no
// trailing newline.
func CSV(rs *backend.ResultSet) (string, error) {
	if err := checkResult(rs); err != nil {
		return "", err
	}
	lines := make([]string, 0, len(rs.Data)+1)
	lines = append(lines, strings.Join(rs.ColumnNames(), ","))
	for _, row := range rs.Data {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = rawCell(v)
		}
		lines = append(lines, strings.Join(cells, ","))
	}
	return strings.Join(lines, "\n"), nil
}

// rawCell is the unformatted text of a cell; nil becomes empty.
func rawCell(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return Label(t)
	}
	if f, ok := ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// WriteXLSX writes rs as a workbook with one sheet: the header row then the
// data rows. Numbers stay numeric.
func WriteXLSX(w io.Writer, rs *backend.ResultSet) error {
	if err := checkResult(rs); err != nil {
		return err
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return fmt.Errorf("name sheet: %w", err)
	}

	header := make([]interface{}, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = c.Name
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for r, row := range rs.Data {
		values := make([]interface{}, len(row))
		for i, v := range row {
			values[i] = xlsxCell(v)
		}
		axis, err := excelize.CoordinatesToCellName(1, r+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, axis, &values); err != nil {
			return fmt.Errorf("write row %d: %w", r+1, err)
		}
	}
	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func xlsxCell(v any) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, time.Time:
		return t
	}
	if f, ok := ToFloat(v); ok {
		return f
	}
	return fmt.Sprint(v)
}

// Export writes rs to dir in the given format and returns the file path.
func Export(rs *backend.ResultSet, format, dir string, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, FileName(format, now))

	switch format {
	case FormatCSV:
		content, err := CSV(rs)
		if err != nil {
			return "", err
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			return "", fmt.Errorf("write csv: %w", err)
		}
	case FormatXLSX:
		out, err := os.Create(path)
		if err != nil {
			return "", fmt.Errorf("create xlsx: %w", err)
		}
		if err := WriteXLSX(out, rs); err != nil {
			out.Close()
			os.Remove(path)
			return "", err
		}
		if err := out.Close(); err != nil {
			return "", err
		}
	default:
		return "", fmt.Errorf("unknown export format %q", format)
	}
	return path, nil
}
