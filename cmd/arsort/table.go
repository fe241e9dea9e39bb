package main

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/John-Robertt/ARSort/internal/domain"
)

// ledgerTable 把预览渲染成终端表格（仅 TTY 使用；非 TTY 输出 JSON）。
func ledgerTable(ledger domain.Ledger) string {
	headers := []string{"#", "src", "kind", "dims", "orient", "dst", "status"}
	rows := make([][]string, 0, len(ledger.Items))
	for i, it := range ledger.Items {
		dims := ""
		if it.Width > 0 && it.Height > 0 {
			dims = fmt.Sprintf("%dx%d", it.Width, it.Height)
		}
		note := it.Status
		if it.ErrorMsg != "" {
			note = it.Status + ": " + truncate(it.ErrorMsg, 60)
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", i+1),
			it.Src,
			string(it.Kind),
			dims,
			string(it.Orientation),
			it.Dst,
			note,
		})
	}

	aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
	out := renderTable(headers, rows, aligns)
	if out == "" {
		return ""
	}
	return out + "\n"
}

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := 0; i < columns; i++ {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := 0; i < columns; i++ {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	columnConfigs := make([]table.ColumnConfig, 0, columns)
	for i := 0; i < columns; i++ {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		columnConfigs = append(columnConfigs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(columnConfigs)

	return tw.Render()
}

// truncate 按字符（rune）截断：错误信息多为中文，按字节切会产出残缺编码。
func truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	if max <= 3 {
		return string(r[:max])
	}
	return string(r[:max-3]) + "..."
}
