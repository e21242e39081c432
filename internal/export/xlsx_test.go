package export

import (
	"bytes"
	"testing"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/metrics"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestWriteXLSX(t *testing.T) {
	at := time.Date(2024, 12, 3, 9, 0, 0, 0, time.UTC)
	rows := []order.LineItem{
		{OrderID: "D1", LineNumber: 1, ProductName: "Packer Jacket", Color: "Olive", Size: "L",
			Quantity: decimal.NewFromInt(1), NetRevenue: decimal.RequireFromString("295.5"),
			OrderedAt: &at, SourceMonth: period.MustParse("2024-12")},
		{OrderID: "D2", LineNumber: 2, ProductName: "Wool Cap",
			Quantity: decimal.NewFromInt(2), NetRevenue: decimal.NewFromInt(80),
			SourceMonth: period.MustParse("2024-12")},
	}
	summary := &metrics.Summary{
		Values: map[string]decimal.Decimal{
			"revenue":  decimal.RequireFromString("375.5"),
			"quantity": decimal.NewFromInt(3),
		},
		Grouped: metrics.RegroupByVariant(rows),
		Attach: &metrics.AttachReport{
			Variants: []metrics.VariantAttach{{
				Variant:      order.VariantKey{Product: "Packer Jacket", Color: "Olive", Size: "L"},
				AttachRecord: metrics.AttachRecord{TotalOrders: 2, AttachOrders: 1, Rate: decimal.NewFromInt(50)},
			}},
			Overall: metrics.AttachRecord{TotalOrders: 2, AttachOrders: 1, Rate: decimal.NewFromInt(50)},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, rows, summary))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{SheetRows, SheetSummary, SheetAttach}, f.GetSheetList())

	data, err := f.GetRows(SheetRows)
	require.NoError(t, err)
	require.Len(t, data, 3)
	assert.Equal(t, "Order ID", data[0][0])
	assert.Equal(t, []string{"D1", "1", "Packer Jacket", "", "Olive", "L", "1", "295.5", "2024-12-03 09:00:00", "2024-12"}, data[1])
	assert.Equal(t, "Wool Cap", data[2][2])

	sum, err := f.GetRows(SheetSummary)
	require.NoError(t, err)
	assert.Equal(t, []string{"quantity", "3"}, sum[1])
	assert.Equal(t, []string{"revenue", "375.5"}, sum[2])
	assert.Equal(t, "Product", sum[4][0])

	attach, err := f.GetRows(SheetAttach)
	require.NoError(t, err)
	require.Len(t, attach, 3)
	assert.Equal(t, "Overall", attach[2][0])
	assert.Equal(t, "50", attach[2][5])
}

func TestWriteXLSX_RowsOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, nil))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, []string{SheetRows}, f.GetSheetList())
}
