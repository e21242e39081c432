package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery_Normalize(t *testing.T) {
	tests := []struct {
		name    string
		in      Query
		want    Query
		wantErr bool
	}{
		{
			name: "trims and dedupes",
			in: Query{
				Product: &ProductFilter{Text: "  tin   cloth ", Colors: []string{"Olive", " olive ", ""}, SKUs: []string{" A "}},
				Metrics: []string{" Quantity", "quantity", "REVENUE"},
			},
			want: Query{
				Product: &ProductFilter{Text: "tin cloth", Colors: []string{"Olive"}, SKUs: []string{"A"}},
				Metrics: []string{"quantity", "revenue"},
			},
		},
		{
			name: "empty product filter is dropped",
			in:   Query{Product: &ProductFilter{Text: "  ", IDs: []string{" "}}},
			want: Query{},
		},
		{
			name: "months derived from dates",
			in:   Query{Time: &TimeRange{StartDate: "2024-11-15", EndDate: "2024-12-03"}},
			want: Query{Time: &TimeRange{StartYYYYMM: "2024-11", EndYYYYMM: "2024-12", StartDate: "2024-11-15", EndDate: "2024-12-03"}},
		},
		{
			name: "single bound fills the other and compact form is accepted",
			in:   Query{Time: &TimeRange{EndYYYYMM: "202412"}},
			want: Query{Time: &TimeRange{StartYYYYMM: "2024-12", EndYYYYMM: "2024-12"}},
		},
		{
			name: "blank time is dropped",
			in:   Query{Time: &TimeRange{}},
			want: Query{},
		},
		{name: "start after end", in: Query{Time: &TimeRange{StartYYYYMM: "2024-12", EndYYYYMM: "2024-11"}}, wantErr: true},
		{name: "end date before start date", in: Query{Time: &TimeRange{StartDate: "2024-12-05", EndDate: "2024-12-01"}}, wantErr: true},
		{name: "bad date", in: Query{Time: &TimeRange{StartDate: "12/01/2024"}}, wantErr: true},
		{name: "bad month", in: Query{Time: &TimeRange{StartYYYYMM: "2024-13"}}, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.in.Normalize()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidQuery)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestMerge_DeepMergesProduct(t *testing.T) {
	base := Query{
		Time:    &TimeRange{StartYYYYMM: "2024-11", EndYYYYMM: "2024-12"},
		Product: &ProductFilter{Text: "jacket", Colors: []string{"Olive"}, Sizes: []string{"L"}},
		Metrics: []string{"quantity"},
	}

	merged, err := Merge(base, Query{Product: &ProductFilter{Text: "tin cloth jacket", Sizes: []string{}}})
	require.NoError(t, err)
	assert.Equal(t, "tin cloth jacket", merged.Product.Text)
	assert.Equal(t, []string{"Olive"}, merged.Product.Colors, "earlier facet selection survives")
	assert.Nil(t, merged.Product.Sizes, "explicit empty list clears")
	assert.Equal(t, []string{"quantity"}, merged.Metrics)
	assert.Equal(t, "2024-11", merged.Time.StartYYYYMM)

	merged, err = Merge(base, Query{Time: &TimeRange{StartYYYYMM: "2024-01"}, Metrics: []string{"revenue"}})
	require.NoError(t, err)
	assert.Equal(t, "2024-01", merged.Time.EndYYYYMM, "time is replaced, not merged")
	assert.Equal(t, []string{"revenue"}, merged.Metrics)
	assert.Equal(t, "jacket", merged.Product.Text)

	assert.Equal(t, []string{"Olive"}, base.Product.Colors, "base is not mutated")

	_, err = Merge(base, Query{Time: &TimeRange{StartYYYYMM: "2025-01", EndYYYYMM: "2024-01"}})
	require.ErrorIs(t, err, ErrInvalidQuery)
}
