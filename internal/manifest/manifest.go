package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/aevon-lab/orderlens/internal/core/period"
)

// Month is one published partition. Path is set only when the manifest names
// the file explicitly.
type Month struct {
	YearMonth period.YearMonth `json:"month"`
	Path      string           `json:"path,omitempty"`
}

// rawManifest accepts both published shapes:
//
//	{"years": {"2024": [11, "12"]}}
//	{"months": [{"month": "2024-11", "path": "exports/2024-11.csv"}]}
type rawManifest struct {
	Years  map[string][]monthToken `json:"years"`
	Months []struct {
		Month string `json:"month"`
		Path  string `json:"path"`
	} `json:"months"`
}

// monthToken is a month number written either as a JSON number or a string.
type monthToken string

func (m *monthToken) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = monthToken(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("month must be a number or string: %w", err)
	}
	*m = monthToken(n.String())
	return nil
}

// Parse decodes a manifest into an ordered, de-duplicated month list.
// Entries that do not form a valid year-month are skipped with a warning.
func Parse(data []byte) ([]Month, error) {
	var raw rawManifest
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if raw.Years == nil && raw.Months == nil {
		return nil, fmt.Errorf("decode manifest: neither years nor months present")
	}

	byMonth := make(map[period.YearMonth]Month)
	for yyyy, months := range raw.Years {
		year, err := strconv.Atoi(strings.TrimSpace(yyyy))
		if err != nil {
			slog.Warn("[Manifest] Skip invalid year", "year", yyyy)
			continue
		}
		for _, token := range months {
			mm, err := strconv.Atoi(string(token))
			if err != nil {
				slog.Warn("[Manifest] Skip invalid month", "year", yyyy, "month", string(token))
				continue
			}
			ym, err := period.New(year, mm)
			if err != nil {
				slog.Warn("[Manifest] Skip invalid month", "year", yyyy, "month", string(token), "error", err)
				continue
			}
			if _, seen := byMonth[ym]; !seen {
				byMonth[ym] = Month{YearMonth: ym}
			}
		}
	}
	for _, entry := range raw.Months {
		ym, err := period.Parse(entry.Month)
		if err != nil {
			slog.Warn("[Manifest] Skip invalid month entry", "month", entry.Month, "error", err)
			continue
		}
		existing := byMonth[ym]
		existing.YearMonth = ym
		if entry.Path != "" {
			existing.Path = entry.Path
		}
		byMonth[ym] = existing
	}

	out := make([]Month, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].YearMonth.Before(out[j].YearMonth) })
	return out, nil
}
