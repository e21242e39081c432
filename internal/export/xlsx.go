package export

import (
	"fmt"
	"io"
	"sort"

	"github.com/aevon-lab/orderlens/internal/metrics"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/xuri/excelize/v2"
)

const (
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

	SheetRows    = "Rows"
	SheetSummary = "Summary"
	SheetAttach  = "Attach Rate"
)

var rowHeadings = []string{
	"Order ID", "Line", "Product", "SKU", "Color", "Size",
	"Quantity", "Net Revenue", "Ordered At", "Source Month",
}

// WriteXLSX writes the row set and the metric summary as a workbook.
// The attach-rate sheet is only added when the summary carries a report.
func WriteXLSX(w io.Writer, rows []order.LineItem, summary *metrics.Summary) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetRows); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}
	if err := setRow(f, SheetRows, 1, toCells(rowHeadings)); err != nil {
		return err
	}
	for i, r := range rows {
		orderedAt := ""
		if r.OrderedAt != nil {
			orderedAt = r.OrderedAt.Format("2006-01-02 15:04:05")
		}
		qty, _ := r.Quantity.Float64()
		rev, _ := r.NetRevenue.Float64()
		cells := []interface{}{
			r.OrderID, r.LineNumber, r.ProductName, r.SKU, r.Color, r.Size,
			qty, rev, orderedAt, r.SourceMonth.String(),
		}
		if err := setRow(f, SheetRows, i+2, cells); err != nil {
			return err
		}
	}

	if summary != nil {
		if err := writeSummary(f, summary); err != nil {
			return err
		}
		if summary.Attach != nil {
			if err := writeAttach(f, summary.Attach); err != nil {
				return err
			}
		}
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, summary *metrics.Summary) error {
	if _, err := f.NewSheet(SheetSummary); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := setRow(f, SheetSummary, 1, []interface{}{"Metric", "Value"}); err != nil {
		return err
	}
	names := make([]string, 0, len(summary.Values))
	for name := range summary.Values {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if err := setRow(f, SheetSummary, i+2, []interface{}{name, summary.Values[name].String()}); err != nil {
			return err
		}
	}

	if len(summary.Grouped) == 0 {
		return nil
	}
	start := len(names) + 3
	if err := setRow(f, SheetSummary, start, []interface{}{"Product", "Color", "Size", "Lines", "Quantity", "Revenue"}); err != nil {
		return err
	}
	for i, g := range summary.Grouped {
		cells := []interface{}{g.ProductName, g.Color, g.Size, g.GroupCount, g.Quantity.String(), g.GroupedRevenue.String()}
		if err := setRow(f, SheetSummary, start+i+1, cells); err != nil {
			return err
		}
	}
	return nil
}

func writeAttach(f *excelize.File, report *metrics.AttachReport) error {
	if _, err := f.NewSheet(SheetAttach); err != nil {
		return fmt.Errorf("create sheet: %w", err)
	}
	if err := setRow(f, SheetAttach, 1, []interface{}{"Product", "Color", "Size", "Orders", "Attach Orders", "Rate %"}); err != nil {
		return err
	}
	for i, v := range report.Variants {
		cells := []interface{}{v.Variant.Product, v.Variant.Color, v.Variant.Size, v.TotalOrders, v.AttachOrders, v.Rate.String()}
		if err := setRow(f, SheetAttach, i+2, cells); err != nil {
			return err
		}
	}
	overall := []interface{}{"Overall", "", "", report.Overall.TotalOrders, report.Overall.AttachOrders, report.Overall.Rate.String()}
	return setRow(f, SheetAttach, len(report.Variants)+2, overall)
}

func setRow(f *excelize.File, sheet string, row int, cells []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &cells); err != nil {
		return fmt.Errorf("write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toCells(values []string) []interface{} {
	out := make([]interface{}, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
