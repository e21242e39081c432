package manifest

import (
	"context"
	"errors"
	"testing"

	"github.com/aevon-lab/orderlens/internal/core/period"
	fetchmocks "github.com/aevon-lab/orderlens/internal/mocks/fetch"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestParse_BothShapes(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		want  []string
		paths map[string]string
	}{
		{
			name: "years shape with numbers and strings",
			doc:  `{"years": {"2024": [12, "11"], "2023": ["1"]}}`,
			want: []string{"2023-01", "2024-11", "2024-12"},
		},
		{
			name:  "months shape with paths",
			doc:   `{"months": [{"month": "2024-12", "path": "exports/dec.csv"}, {"month": "2024-11"}]}`,
			want:  []string{"2024-11", "2024-12"},
			paths: map[string]string{"2024-12": "exports/dec.csv"},
		},
		{
			name: "invalid entries are skipped",
			doc:  `{"years": {"20x4": [1], "2024": [13, 2]}, "months": [{"month": "bogus"}]}`,
			want: []string{"2024-02"},
		},
		{
			name:  "both shapes merge and dedupe",
			doc:   `{"years": {"2024": [11]}, "months": [{"month": "2024-11", "path": "p.csv"}]}`,
			want:  []string{"2024-11"},
			paths: map[string]string{"2024-11": "p.csv"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			months, err := Parse([]byte(tc.doc))
			require.NoError(t, err)

			var got []string
			for _, m := range months {
				got = append(got, m.YearMonth.String())
				require.Equal(t, tc.paths[m.YearMonth.String()], m.Path)
			}
			require.Equal(t, tc.want, got)
		})
	}
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte(`not json`))
	require.Error(t, err)

	_, err = Parse([]byte(`{"other": true}`))
	require.ErrorContains(t, err, "neither years nor months")
}

func TestExpand(t *testing.T) {
	ym := period.MustParse("2024-03")
	require.Equal(t, "exports/2024/03/orders.csv", Expand("${baseDir}/${yyyy}/${mm}/orders.csv", MonthVars("exports", ym)))
	require.Equal(t, "2024/03/orders.csv", Expand("${baseDir}/${yyyy}/${mm}/orders.csv", MonthVars("", ym)))
}

func TestResolver_ListMonthsCachesSuccessOnly(t *testing.T) {
	ctx := context.Background()
	provider := fetchmocks.NewProvider(t)

	provider.EXPECT().Fetch(mock.Anything, "manifest.json").Return(nil, errors.New("boom")).Once()
	provider.EXPECT().Fetch(mock.Anything, "manifest.json").Return([]byte(`{"years":{"2024":[11,12]}}`), nil).Once()

	r := NewResolver(provider, "manifest.json", "exports")

	_, err := r.ListMonths(ctx)
	require.ErrorContains(t, err, "boom", "fetch failure must propagate, not become an empty list")

	months, err := r.ListMonths(ctx)
	require.NoError(t, err)
	require.Len(t, months, 2)

	// Served from cache: the mock would fail on a third Fetch.
	again, err := r.ListMonths(ctx)
	require.NoError(t, err)
	require.Equal(t, months, again)
}

func TestResolver_MonthsInRange(t *testing.T) {
	provider := fetchmocks.NewProvider(t)
	provider.EXPECT().Fetch(mock.Anything, "manifest.json").
		Return([]byte(`{"years":{"2024":[9,10,11,12],"2025":[1]}}`), nil).Once()

	r := NewResolver(provider, "manifest.json", "")
	rng, err := period.NewRange(period.MustParse("2024-11"), period.MustParse("2025-01"))
	require.NoError(t, err)

	months, err := r.MonthsInRange(context.Background(), rng)
	require.NoError(t, err)
	require.Len(t, months, 3)
	require.Equal(t, "2024-11", months[0].YearMonth.String())
	require.Equal(t, "2025-01", months[2].YearMonth.String())
}

func TestResolver_CandidatesAndResolve(t *testing.T) {
	ctx := context.Background()
	provider := fetchmocks.NewProvider(t)
	provider.EXPECT().Fetch(mock.Anything, "manifest.json").
		Return([]byte(`{"months":[{"month":"2024-12","path":"custom/dec.csv"},{"month":"2024-11"}]}`), nil).Once()

	r := NewResolver(provider, "manifest.json", "exports")
	_, err := r.ListMonths(ctx)
	require.NoError(t, err)

	templates := []string{"${baseDir}/${yyyy}/${mm}/line_items.csv", "${baseDir}/line_items_${yyyy}_${mm}.csv"}

	require.Equal(t,
		[]string{"exports/custom/dec.csv", "exports/2024/12/line_items.csv", "exports/line_items_2024_12.csv"},
		r.Candidates(period.MustParse("2024-12"), templates),
	)

	nov := period.MustParse("2024-11")
	provider.EXPECT().Exists(mock.Anything, "exports/2024/11/line_items.csv").Return(false, nil).Once()
	provider.EXPECT().Exists(mock.Anything, "exports/line_items_2024_11.csv").Return(true, nil).Once()
	path, err := r.Resolve(ctx, nov, templates)
	require.NoError(t, err)
	require.Equal(t, "exports/line_items_2024_11.csv", path)

	// Nothing exists: fall back to the first candidate.
	provider.EXPECT().Exists(mock.Anything, mock.Anything).Return(false, nil).Times(2)
	path, err = r.Resolve(ctx, period.MustParse("2023-01"), templates)
	require.NoError(t, err)
	require.Equal(t, "exports/2023/01/line_items.csv", path)
}
