package manifest

import (
	"fmt"
	"strings"
	"time"

	"github.com/aevon-lab/orderlens/internal/core/period"
)

// Vars are the substitutions available to path templates.
type Vars struct {
	BaseDir string
	YYYY    string
	MM      string
	DD      string
}

// MonthVars returns the substitutions for a month partition.
func MonthVars(baseDir string, ym period.YearMonth) Vars {
	return Vars{BaseDir: baseDir, YYYY: ym.YYYY(), MM: ym.MM()}
}

// DayVars returns the substitutions for a dated file.
func DayVars(baseDir string, day time.Time) Vars {
	return Vars{
		BaseDir: baseDir,
		YYYY:    fmt.Sprintf("%04d", day.Year()),
		MM:      fmt.Sprintf("%02d", int(day.Month())),
		DD:      fmt.Sprintf("%02d", day.Day()),
	}
}

// Expand substitutes ${baseDir}, ${yyyy}, ${mm} and ${dd} and trims the leading
// slash left behind by an empty base dir.
func Expand(template string, v Vars) string {
	r := strings.NewReplacer(
		"${baseDir}", v.BaseDir,
		"${yyyy}", v.YYYY,
		"${mm}", v.MM,
		"${dd}", v.DD,
	)
	return strings.TrimPrefix(r.Replace(template), "/")
}
