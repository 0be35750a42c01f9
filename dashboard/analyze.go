// Package dashboard turns a result set into table, line, bar and pie views
// and exports it as CSV or XLSX.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/DachengChen/sqlpilot/backend"
)

var (
	// ErrNoData is returned for an empty or malformed result.
	ErrNoData = errors.New("no valid data")
	// ErrNoNumericColumn is returned when a chart has nothing to plot.
	ErrNoNumericColumn = errors.New("no numeric column to plot")
)

var (
	numericTypes  = []string{"int", "float", "double", "decimal", "number"}
	categoryTypes = []string{"text", "varchar", "char"}
	datePrefix    = regexp.MustCompile(`^\d{4}[-/]\d{2}[-/]\d{2}`)
	printer       = message.NewPrinter(language.English)
)

func typeContains(t string, needles ...string) bool {
	t = strings.ToLower(t)
	for _, n := range needles {
		if strings.Contains(t, n) {
			return true
		}
	}
	return false
}

// IsNumericType reports whether a declared column type holds numbers.
func IsNumericType(t string) bool { return typeContains(t, numericTypes...) }

// IsCategoryType reports whether a declared column type holds text.
func IsCategoryType(t string) bool { return typeContains(t, categoryTypes...) }

func checkResult(rs *backend.ResultSet) error {
	if rs == nil || len(rs.Columns) == 0 || rs.Data == nil {
		return ErrNoData
	}
	return nil
}

// AxisColumn picks the x axis of a line chart: a column named like a date
// or time, else one typed like one (or text holding YYYY-MM-DD values),
// else the first column.
func AxisColumn(rs *backend.ResultSet) int {
	for i, c := range rs.Columns {
		if typeContains(c.Name, "date", "time") {
			return i
		}
	}
	for i, c := range rs.Columns {
		if typeContains(c.Type, "date", "time") {
			return i
		}
		if typeContains(c.Type, "text") && len(rs.Data) > 0 && i < len(rs.Data[0]) {
			if s, ok := rs.Data[0][i].(string); ok && datePrefix.MatchString(s) {
				return i
			}
		}
	}
	return 0
}

// CategoryColumn picks the label column of bar and pie charts.
func CategoryColumn(rs *backend.ResultSet) int {
	for i, c := range rs.Columns {
		if IsCategoryType(c.Type) {
			return i
		}
	}
	return 0
}

// NumericColumns returns the numeric columns other than exclude, in order.
func NumericColumns(rs *backend.ResultSet, exclude int) []int {
	var out []int
	for i, c := range rs.Columns {
		if i != exclude && IsNumericType(c.Type) {
			out = append(out, i)
		}
	}
	return out
}

// Series is one plotted column.
type Series struct {
	Name   string
	Values []float64
}

// LineData is a line chart ready to draw, oldest point first.
type LineData struct {
	Axis   string
	Labels []string
	Series []Series
}

// Line builds the line chart of rs. When every axis value parses as a date
// the points are sorted ascending; otherwise the rows are assumed to come
// newest first and are reversed.
func Line(rs *backend.ResultSet) (*LineData, error) {
	if err := checkResult(rs); err != nil {
		return nil, err
	}
	if len(rs.Data) == 0 {
		return nil, ErrNoData
	}
	axis := AxisColumn(rs)
	cols := NumericColumns(rs, axis)
	if len(cols) == 0 {
		return nil, ErrNoNumericColumn
	}

	order := make([]int, len(rs.Data))
	for i := range order {
		order[i] = i
	}
	times, allDates := axisTimes(rs, axis)
	if allDates {
		sort.SliceStable(order, func(a, b int) bool { return times[order[a]].Before(times[order[b]]) })
	} else {
		for i, j := 0, len(order)-1; i < j; i, j = i+1, j-1 {
			order[i], order[j] = order[j], order[i]
		}
	}

	ld := &LineData{Axis: rs.Columns[axis].Name}
	for _, r := range order {
		ld.Labels = append(ld.Labels, Label(cell(rs.Data[r], axis)))
	}
	for _, c := range cols {
		s := Series{Name: rs.Columns[c].Name}
		for _, r := range order {
			v, _ := ToFloat(cell(rs.Data[r], c))
			s.Values = append(s.Values, v)
		}
		ld.Series = append(ld.Series, s)
	}
	return ld, nil
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"2006/01/02",
	"2006-01",
}

func parseTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts, true
			}
		}
	}
	return time.Time{}, false
}

func axisTimes(rs *backend.ResultSet, axis int) ([]time.Time, bool) {
	out := make([]time.Time, len(rs.Data))
	for i, row := range rs.Data {
		ts, ok := parseTime(cell(row, axis))
		if !ok {
			return nil, false
		}
		out[i] = ts
	}
	return out, true
}

// BarData is a grouped bar chart.
type BarData struct {
	Category string
	Labels   []string
	Series   []Series
}

// Bar builds the bar chart of rs in row order.
func Bar(rs *backend.ResultSet) (*BarData, error) {
	if err := checkResult(rs); err != nil {
		return nil, err
	}
	if len(rs.Data) == 0 {
		return nil, ErrNoData
	}
	cat := CategoryColumn(rs)
	cols := NumericColumns(rs, cat)
	if len(cols) == 0 {
		return nil, ErrNoNumericColumn
	}

	bd := &BarData{Category: rs.Columns[cat].Name}
	for _, row := range rs.Data {
		bd.Labels = append(bd.Labels, Label(cell(row, cat)))
	}
	for _, c := range cols {
		s := Series{Name: rs.Columns[c].Name}
		for _, row := range rs.Data {
			v, _ := ToFloat(cell(row, c))
			s.Values = append(s.Values, v)
		}
		bd.Series = append(bd.Series, s)
	}
	return bd, nil
}

// Slice is one pie wedge.
type Slice struct {
	Label string
	Value float64
	Share float64
}

// Percent formats the share with one decimal place.
func (s Slice) Percent() string {
	return strconv.FormatFloat(s.Share, 'f', 1, 64) + "%"
}

// Legend is the legend line of the wedge.
func (s Slice) Legend() string {
	return fmt.Sprintf("%s (%s)", s.Label, s.Percent())
}

// PieData is a pie chart of the first numeric column.
type PieData struct {
	Category string
	Value    string
	Total    float64
	Slices   []Slice
}

// Pie builds the pie chart of rs.
func Pie(rs *backend.ResultSet) (*PieData, error) {
	if err := checkResult(rs); err != nil {
		return nil, err
	}
	if len(rs.Data) == 0 {
		return nil, ErrNoData
	}
	cat := CategoryColumn(rs)
	cols := NumericColumns(rs, cat)
	if len(cols) == 0 {
		return nil, ErrNoNumericColumn
	}
	val := cols[0]

	pd := &PieData{Category: rs.Columns[cat].Name, Value: rs.Columns[val].Name}
	for _, row := range rs.Data {
		v, _ := ToFloat(cell(row, val))
		pd.Slices = append(pd.Slices, Slice{Label: Label(cell(row, cat)), Value: v})
		pd.Total += v
	}
	for i := range pd.Slices {
		if pd.Total != 0 {
			pd.Slices[i].Share = pd.Slices[i].Value / pd.Total * 100
		}
	}
	return pd, nil
}

func cell(row []any, i int) any {
	if i < len(row) {
		return row[i]
	}
	return nil
}

// ToFloat converts a decoded cell to a number. Non-numeric cells yield
// false and zero.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Label renders a cell used as an axis label or category.
func Label(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case string:
		return t
	case time.Time:
		if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
			return t.Format("2006-01-02")
		}
		return t.Format("2006-01-02 15:04:05")
	}
	if f, ok := ToFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// FormatCell renders a table cell: NULL for nil, thousands separators for
// numbers and two decimals for non-integers. Strings are left as they are.
func FormatCell(v any) string {
	switch v.(type) {
	case nil:
		return "NULL"
	case string, json.Number:
		return fmt.Sprint(v)
	case bool:
		return strconv.FormatBool(v.(bool))
	}
	f, ok := ToFloat(v)
	if !ok {
		return Label(v)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return printer.Sprintf("%d", int64(f))
	}
	return printer.Sprintf("%.2f", f)
}
