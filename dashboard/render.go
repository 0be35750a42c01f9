package dashboard

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/guptarohit/asciigraph"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/DachengChen/sqlpilot/backend"
)

// View is one dashboard tab.
type View int

const (
	ViewTable View = iota
	ViewLine
	ViewBar
	ViewPie
)

// Views lists the tabs in display order.
var Views = []View{ViewTable, ViewLine, ViewBar, ViewPie}

func (v View) String() string {
	switch v {
	case ViewLine:
		return "Line"
	case ViewBar:
		return "Bar"
	case ViewPie:
		return "Pie"
	}
	return "Table"
}

var seriesColors = []struct {
	ansi asciigraph.AnsiColor
	term lipgloss.Color
}{
	{asciigraph.Blue, lipgloss.Color("4")},
	{asciigraph.Green, lipgloss.Color("2")},
	{asciigraph.Yellow, lipgloss.Color("3")},
	{asciigraph.Magenta, lipgloss.Color("5")},
	{asciigraph.Cyan, lipgloss.Color("6")},
	{asciigraph.Red, lipgloss.Color("1")},
}

func colorAt(i int) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(seriesColors[i%len(seriesColors)].term)
}

// Render draws rs in the given view. Unplottable results become an inline
// explanation; it never fails.
func Render(rs *backend.ResultSet, v View, width, height int) string {
	if rs != nil && !rs.IsTabular() && (rs.Message != "" || rs.AffectedRows != 0) {
		return Summary(rs)
	}
	switch v {
	case ViewLine:
		return RenderLine(rs, width, height)
	case ViewBar:
		return RenderBar(rs, width)
	case ViewPie:
		return RenderPie(rs, width)
	}
	return RenderTable(rs, width)
}

// Summary describes a statement that returned no rows.
func Summary(rs *backend.ResultSet) string {
	if rs.Message != "" {
		return fmt.Sprintf("%s (%d rows affected)", rs.Message, rs.AffectedRows)
	}
	return fmt.Sprintf("%d rows affected", rs.AffectedRows)
}

// Explain turns a chart error into the text shown in its place.
func Explain(err error, chart string) string {
	switch {
	case errors.Is(err, ErrNoNumericColumn):
		return fmt.Sprintf("No numeric column found, cannot draw a %s chart", chart)
	case errors.Is(err, ErrNoData):
		return "No valid data"
	}
	return err.Error()
}

// RenderTable draws the result as a table with a total-rows caption.
func RenderTable(rs *backend.ResultSet, width int) string {
	if err := checkResult(rs); err != nil {
		return Explain(err, "table")
	}
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.Style().Format.Header = text.FormatDefault
	if width > 0 {
		t.SetAllowedRowLength(width)
	}

	header := make(table.Row, len(rs.Columns))
	for i, c := range rs.Columns {
		header[i] = c.Name
	}
	t.AppendHeader(header)
	for _, row := range rs.Data {
		r := make(table.Row, len(rs.Columns))
		for i := range rs.Columns {
			r[i] = FormatCell(cell(row, i))
		}
		t.AppendRow(r)
	}
	t.SetCaption("Total rows: %d", rs.TotalRows)
	return t.Render()
}

// RenderLine draws every numeric series against the axis column.
func RenderLine(rs *backend.ResultSet, width, height int) string {
	ld, err := Line(rs)
	if err != nil {
		return Explain(err, "line")
	}

	data := make([][]float64, len(ld.Series))
	colors := make([]asciigraph.AnsiColor, len(ld.Series))
	for i, s := range ld.Series {
		vals := s.Values
		if len(vals) == 1 {
			vals = []float64{vals[0], vals[0]}
		}
		data[i] = vals
		colors[i] = seriesColors[i%len(seriesColors)].ansi
	}

	opts := []asciigraph.Option{
		asciigraph.SeriesColors(colors...),
		asciigraph.Caption(ld.Axis),
	}
	if height > 4 {
		opts = append(opts, asciigraph.Height(height-4))
	}
	if width > 20 {
		opts = append(opts, asciigraph.Width(width-12))
	}

	var sb strings.Builder
	sb.WriteString(asciigraph.PlotMany(data, opts...))
	sb.WriteString("\n")
	first, last := ld.Labels[0], ld.Labels[len(ld.Labels)-1]
	sb.WriteString(fmt.Sprintf("%s → %s\n", first, last))
	sb.WriteString(legend(seriesNames(ld.Series)))
	return sb.String()
}

func seriesNames(series []Series) []string {
	names := make([]string, len(series))
	for i, s := range series {
		names[i] = s.Name
	}
	return names
}

func legend(names []string) string {
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = colorAt(i).Render("■") + " " + n
	}
	return strings.Join(parts, "   ")
}

// RenderBar draws one horizontal bar per row and series.
func RenderBar(rs *backend.ResultSet, width int) string {
	bd, err := Bar(rs)
	if err != nil {
		return Explain(err, "bar")
	}

	labelWidth := 0
	for _, l := range bd.Labels {
		labelWidth = max(labelWidth, lipgloss.Width(l))
	}
	labelWidth = min(labelWidth, 24)

	maxVal := 0.0
	for _, s := range bd.Series {
		for _, v := range s.Values {
			maxVal = math.Max(maxVal, v)
		}
	}
	barWidth := width - labelWidth - 18
	if barWidth < 10 {
		barWidth = 40
	}

	var sb strings.Builder
	for r, label := range bd.Labels {
		for i, s := range bd.Series {
			name := ""
			if i == 0 {
				name = truncateLabel(label, labelWidth)
			}
			n := 0
			if maxVal > 0 && s.Values[r] > 0 {
				n = int(math.Round(s.Values[r] / maxVal * float64(barWidth)))
			}
			sb.WriteString(fmt.Sprintf("%-*s │%s %s\n",
				labelWidth, name,
				colorAt(i).Render(strings.Repeat("█", n)),
				FormatCell(s.Values[r]),
			))
		}
	}
	sb.WriteString(legend(seriesNames(bd.Series)))
	return sb.String()
}

func truncateLabel(s string, n int) string {
	if lipgloss.Width(s) <= n {
		return s
	}
	r := []rune(s)
	if n <= 1 || len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// RenderPie draws the shares as a stacked strip with a legend.
func RenderPie(rs *backend.ResultSet, width int) string {
	pd, err := Pie(rs)
	if err != nil {
		return Explain(err, "pie")
	}
	stripWidth := width - 4
	if stripWidth < 20 {
		stripWidth = 60
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%s by %s\n\n", pd.Value, pd.Category))
	used := 0
	for i, s := range pd.Slices {
		n := int(math.Round(s.Share / 100 * float64(stripWidth)))
		if i == len(pd.Slices)-1 {
			n = stripWidth - used
		}
		if n < 0 {
			n = 0
		}
		used += n
		sb.WriteString(colorAt(i).Render(strings.Repeat("█", n)))
	}
	sb.WriteString("\n\n")
	for i, s := range pd.Slices {
		sb.WriteString(fmt.Sprintf("%s %s  %s\n", colorAt(i).Render("■"), s.Legend(), FormatCell(s.Value)))
	}
	return strings.TrimRight(sb.String(), "\n")
}
