package order

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aevon-lab/orderlens/internal/core/period"
	"github.com/aevon-lab/orderlens/internal/core/source"
	"github.com/aevon-lab/orderlens/internal/fetch"
	"github.com/aevon-lab/orderlens/internal/manifest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func newTestRepository(t *testing.T, root string, files source.OrderFiles) *Repository {
	t.Helper()
	provider := fetch.NewDirProvider(root)
	resolver := manifest.NewResolver(provider, "data/manifest.json", "data")
	return NewRepository(provider, resolver, files, 2)
}

func TestFindByMonthRange_PartitionsPresentAndMissing(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data/manifest.json", `{"years": {"2024": [10, 11, 12]}, "months": [{"month": "2025-01", "path": "special/jan.csv"}]}`)
	writeFile(t, root, "data/orders/2024-10.csv", "order_id,product_name\nX,Out Of Range\n")
	writeFile(t, root, "data/orders/2024-11.csv", "order_id,product_name,quantity\n1,Tote,2\n2,Cap,1\n")
	// 2024-12 is listed but never published.
	writeFile(t, root, "data/special/jan.csv", "order_id,product_name\n3,Jacket\n")

	repo := newTestRepository(t, root, source.OrderFiles{Templates: []string{"${baseDir}/orders/${yyyy}-${mm}.csv"}})

	rng, err := period.NewRange(period.MustParse("2024-11"), period.MustParse("2025-01"))
	require.NoError(t, err)

	result, err := repo.FindByMonthRange(context.Background(), rng)
	require.NoError(t, err)

	require.Len(t, result.Outcomes, 3)
	assert.Equal(t, 3, len(result.Present)+len(result.Missing))
	require.Len(t, result.Missing, 1)
	assert.Equal(t, "2024-12", result.Missing[0].Month.String())
	assert.ErrorIs(t, result.Missing[0].Err, fetch.ErrNotFound)
	assert.NotEmpty(t, result.Missing[0].Error)

	require.Len(t, result.Present, 2)
	assert.Equal(t, "data/special/jan.csv", result.Present[1].Path)

	require.Len(t, result.Rows, 3)
	for _, r := range result.Rows {
		assert.True(t, rng.Contains(r.SourceMonth), "row month %s outside range", r.SourceMonth)
	}
	assert.Equal(t, "Tote", result.Rows[0].ProductName)
	assert.Equal(t, "Jacket", result.Rows[2].ProductName)

	_, isFailed := result.Outcomes[1].(Failed)
	assert.True(t, isFailed)
}

func TestFindByMonthRange_ManifestFailureIsAnError(t *testing.T) {
	repo := newTestRepository(t, t.TempDir(), source.OrderFiles{Templates: []string{"${baseDir}/${yyyy}-${mm}.csv"}})
	rng, err := period.NewRange(period.MustParse("2024-01"), period.MustParse("2024-02"))
	require.NoError(t, err)

	_, err = repo.FindByMonthRange(context.Background(), rng)
	require.ErrorIs(t, err, fetch.ErrNotFound)
}

func TestFindByMonthRange_PairedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data/manifest.json", `{"months": [{"month": "2024-12"}]}`)
	writeFile(t, root, "data/2024/12/orders.csv", "order_id,order_datetime\nA,2024-12-20 08:00:00\n")
	writeFile(t, root, "data/2024/12/lines.csv", "order_id,line_number,product_name\nA,1,Jacket\nA,2,Cap\n")

	repo := newTestRepository(t, root, source.OrderFiles{
		HeaderTemplates: []string{"${baseDir}/${yyyy}/${mm}/orders.csv"},
		LineTemplates:   []string{"${baseDir}/${yyyy}/${mm}/lines.csv"},
	})

	rows, err := repo.LoadMonth(context.Background(), period.MustParse("2024-12"))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		require.NotNil(t, r.OrderedAt)
		assert.Equal(t, 20, r.OrderedAt.Day())
	}
}

func TestAvailableRange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "data/manifest.json", `{"years": {"2023": ["12"], "2024": [1, 2]}}`)
	repo := newTestRepository(t, root, source.OrderFiles{Templates: []string{"${baseDir}/${yyyy}-${mm}.csv"}})

	rng, ok, err := repo.AvailableRange(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2023-12..2024-02", rng.String())
}
