// Package chart adds a clustered column chart to a worksheet that holds a
// table with categories in the first column and one series per further
// column.
package chart

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

const (
	DefaultSheet = "Grafica"
	Title        = "Gráfica"
	ValuesTitle  = "Valores"
)

var (
	ErrSheetNotFound = errors.New("sheet not found")
	ErrNoData        = errors.New("no data found in sheet")
)

type Options struct {
	// Sheet defaults to DefaultSheet.
	Sheet string
}

// Placement describes the chart that was added.
type Placement struct {
	Sheet  string
	Cell   string
	Series int
	Rows   int
}

// AddBarChart opens the workbook at path, charts the sheet's table and saves
// the workbook in place. The workbook is left untouched on error.
func AddBarChart(path string, opts Options) (Placement, error) {
	sheet := opts.Sheet
	if sheet == "" {
		sheet = DefaultSheet
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return Placement{}, fmt.Errorf("open workbook %s: %w", path, err)
	}
	defer f.Close()

	if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		return Placement{}, fmt.Errorf("%w: %q in %s", ErrSheetNotFound, sheet, path)
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return Placement{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	maxRow, maxCol := extent(rows)
	if maxRow < 2 || maxCol < 2 {
		return Placement{}, fmt.Errorf("%w %q of %s", ErrNoData, sheet, path)
	}

	c, err := barChart(sheet, rows, maxRow, maxCol)
	if err != nil {
		return Placement{}, err
	}

	cell, err := excelize.CoordinatesToCellName(maxCol+2, 1)
	if err != nil {
		return Placement{}, fmt.Errorf("chart anchor: %w", err)
	}
	if err := f.AddChart(sheet, cell, c); err != nil {
		return Placement{}, fmt.Errorf("add chart: %w", err)
	}
	if err := f.Save(); err != nil {
		return Placement{}, fmt.Errorf("save workbook %s: %w", path, err)
	}

	return Placement{Sheet: sheet, Cell: cell, Series: maxCol - 1, Rows: maxRow - 1}, nil
}

// extent returns the last used row and column, both 1-based.
func extent(rows [][]string) (maxRow, maxCol int) {
	for i, row := range rows {
		for j := len(row) - 1; j >= 0; j-- {
			if strings.TrimSpace(row[j]) == "" {
				continue
			}
			if i+1 > maxRow {
				maxRow = i + 1
			}
			if j+1 > maxCol {
				maxCol = j + 1
			}
			break
		}
	}
	return maxRow, maxCol
}

func barChart(sheet string, rows [][]string, maxRow, maxCol int) (*excelize.Chart, error) {
	categories, err := rangeRef(sheet, 1, 2, 1, maxRow)
	if err != nil {
		return nil, err
	}

	series := make([]excelize.ChartSeries, 0, maxCol-1)
	for col := 2; col <= maxCol; col++ {
		name, err := rangeRef(sheet, col, 1, col, 1)
		if err != nil {
			return nil, err
		}
		values, err := rangeRef(sheet, col, 2, col, maxRow)
		if err != nil {
			return nil, err
		}
		series = append(series, excelize.ChartSeries{
			Name:       name,
			Categories: categories,
			Values:     values,
		})
	}

	chart := &excelize.Chart{
		Type:   excelize.Col,
		Series: series,
		Title:  []excelize.RichTextRun{{Text: Title}},
		Legend: excelize.ChartLegend{Position: "right"},
		YAxis:  excelize.ChartAxis{Title: []excelize.RichTextRun{{Text: ValuesTitle}}},
	}
	if len(rows) > 0 && len(rows[0]) > 0 && rows[0][0] != "" {
		chart.XAxis.Title = []excelize.RichTextRun{{Text: rows[0][0]}}
	}
	return chart, nil
}

func rangeRef(sheet string, fromCol, fromRow, toCol, toRow int) (string, error) {
	from, err := excelize.CoordinatesToCellName(fromCol, fromRow, true)
	if err != nil {
		return "", err
	}
	quoted := "'" + strings.ReplaceAll(sheet, "'", "''") + "'"
	if fromCol == toCol && fromRow == toRow {
		return quoted + "!" + from, nil
	}
	to, err := excelize.CoordinatesToCellName(toCol, toRow, true)
	if err != nil {
		return "", err
	}
	return quoted + "!" + from + ":" + to, nil
}
