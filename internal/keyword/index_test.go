package keyword

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/order"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rows  []order.LineItem
	err   error
	calls atomic.Int32
}

func (s *stubSource) FindByMonthRange(_ context.Context, _ period.Range) (*order.RangeResult, error) {
	s.calls.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return &order.RangeResult{Rows: s.rows}, nil
}

func line(orderID, product, sku, color, size string) order.LineItem {
	return order.LineItem{OrderID: orderID, ProductName: product, SKU: sku, Color: color, Size: size, Extra: map[string]string{"channel": "web"}}
}

func fixtureRows() []order.LineItem {
	return []order.LineItem{
		line("o1", "Duffle Bag Canvas", "DB-01", "Tan", "M"),
		line("o2", "Duffle Bag Leather", "DB-02", "Brown", "M"),
		line("o3", "Canvas Tote", "CT-01", "Tan", "OS"),
		line("o3", "Wool Cap", "WC-01", "Navy", "OS"),
		line("o4", "Canvas Duffle", "DB-03", "Olive", "L"),
	}
}

func window(t *testing.T) period.Range {
	t.Helper()
	rng, err := period.NewRange(period.MustParse("2024-11"), period.MustParse("2024-12"))
	require.NoError(t, err)
	return rng
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "Duffle Bag, Canvas!", want: []string{"duffle", "bag", "canvas"}},
		{in: "SKU-12_a.b", want: []string{"sku-12_a.b"}},
		{in: "a b cd", want: []string{"cd"}},
		{in: "Café Noir", want: []string{"caf", "noir"}},
		{in: "", want: []string{}},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, Tokenize(tc.in))
		})
	}
}

func TestSearch_AndOr(t *testing.T) {
	src := &stubSource{rows: fixtureRows()}
	idx := NewIndex(src)
	require.NoError(t, idx.Init(context.Background(), nil, window(t)))

	and := idx.Search(SearchRequest{Text: "duffle canvas"})
	require.Empty(t, and.Error)
	assert.Equal(t, []string{"o1", "o4"}, and.OrderIDs)

	or := idx.Search(SearchRequest{Text: "duffle canvas", Op: "or"})
	require.Empty(t, or.Error)
	assert.Equal(t, []string{"o1", "o2", "o3", "o4"}, or.OrderIDs)
	assert.Subset(t, or.OrderIDs, and.OrderIDs)

	assert.Equal(t, "Canvas Tote", or.Summaries["o3"].ProductName, "first-seen line summarizes the order")
}

func TestSearch_DimsAndLimit(t *testing.T) {
	idx := NewIndex(&stubSource{rows: fixtureRows()})
	require.NoError(t, idx.Init(context.Background(), []string{"product_name", "color", "size", "channel"}, window(t)))

	res := idx.Search(SearchRequest{Text: "tan", Dims: []string{"color"}})
	assert.Equal(t, []string{"o1", "o3"}, res.OrderIDs)

	res = idx.Search(SearchRequest{Text: "tan", Dims: []string{"product_name"}})
	assert.Empty(t, res.OrderIDs)

	res = idx.Search(SearchRequest{Text: "web", Dims: []string{"channel"}, Limit: 2})
	assert.Equal(t, []string{"o1", "o2"}, res.OrderIDs)
	assert.Equal(t, 4, res.Total)

	res = idx.Search(SearchRequest{Text: "tan", Dims: []string{"sku"}})
	assert.Contains(t, res.Error, "not indexed")
}

func TestSearch_ReportsErrorsInBand(t *testing.T) {
	idx := NewIndex(&stubSource{rows: fixtureRows()})

	res := idx.Search(SearchRequest{Text: "duffle"})
	assert.Equal(t, ErrNotInitialized.Error(), res.Error)
	assert.Empty(t, res.OrderIDs)

	require.NoError(t, idx.Init(context.Background(), nil, window(t)))
	res = idx.Search(SearchRequest{Text: "duffle", Op: "XOR"})
	assert.Contains(t, res.Error, "unsupported op")

	res = idx.Search(SearchRequest{Text: "x"})
	assert.Empty(t, res.Error)
	assert.Empty(t, res.OrderIDs)
}

func TestInit_ReusesUntilKeyChanges(t *testing.T) {
	src := &stubSource{rows: fixtureRows()}
	idx := NewIndex(src)
	ctx := context.Background()
	rng := window(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, idx.Init(ctx, nil, rng))
		}()
	}
	wg.Wait()
	require.NoError(t, idx.Init(ctx, DefaultDims, rng))
	builds := src.calls.Load()
	assert.LessOrEqual(t, builds, int32(8))

	require.NoError(t, idx.Init(ctx, DefaultDims, rng))
	assert.Equal(t, builds, src.calls.Load(), "same key reuses the index")

	require.NoError(t, idx.Init(ctx, []string{"color"}, rng))
	assert.Equal(t, builds+1, src.calls.Load(), "new dims rebuild")
	assert.Equal(t, "color@2024-11..2024-12", idx.Key())
}

func TestInit_SourceError(t *testing.T) {
	boom := errors.New("manifest down")
	idx := NewIndex(&stubSource{err: boom})
	err := idx.Init(context.Background(), nil, window(t))
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "", idx.Key())
}
