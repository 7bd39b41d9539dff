package attendance

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"deptportal/internal/apperr"
)

// ParseXLSX applies the same rules as Parse to the first sheet of a workbook.
// Row 1 of the sheet is the header and is line 0.
func ParseXLSX(r io.Reader) (Preview, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return Preview{}, apperr.Invalid("could not read workbook: " + err.Error())
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return Preview{}, apperr.Invalid("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return Preview{}, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}

	p := Preview{Rows: []Row{}, Errors: []string{}}
	for i := 1; i < len(rows); i++ {
		var roll, value string
		if len(rows[i]) > 0 {
			roll = strings.TrimSpace(rows[i][0])
		}
		if len(rows[i]) > 1 {
			value = strings.TrimSpace(rows[i][1])
		}
		if roll == "" && value == "" {
			continue
		}
		p.add(i, roll, value)
	}
	return p, nil
}
