package auth

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"deptportal/internal/apperr"
	"deptportal/internal/validate"
)

// RosterImport is the outcome of loading verified roster rows.
type RosterImport struct {
	Added    int      `json:"added"`
	Existing int      `json:"existing"`
	Errors   []string `json:"errors"`
}

// ParseRoster reads "Roll Number,Name,Year" rows. A leading header row is skipped.
// Incomplete rows and unknown years are reported by line and left out.
func ParseRoster(r io.Reader) ([]RosterEntry, []string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var (
		entries []RosterEntry
		errs    = []string{}
		line    int
	)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, nil, apperr.Invalid(fmt.Sprintf("unreadable roster sheet at line %d", line))
		}
		if line == 1 && len(rec) > 0 && strings.Contains(strings.ToLower(rec[0]), "roll") {
			continue
		}
		if len(rec) < 3 || strings.TrimSpace(rec[0]) == "" || strings.TrimSpace(rec[1]) == "" {
			errs = append(errs, fmt.Sprintf("Line %d: Missing roll number, name or year", line))
			continue
		}
		year := strings.TrimSpace(rec[2])
		if validate.YearIndex(year) == 0 {
			errs = append(errs, fmt.Sprintf("Line %d: Unknown year %q", line, year))
			continue
		}
		entries = append(entries, RosterEntry{RollNumber: rec[0], Name: rec[1], Year: year})
	}
	return entries, errs, nil
}

// ImportRoster parses a roster sheet and adds its rows to the verified allow-list.
func (s *Service) ImportRoster(ctx context.Context, r io.Reader) (RosterImport, error) {
	entries, errs, err := ParseRoster(r)
	if err != nil {
		return RosterImport{}, err
	}
	if len(entries) == 0 {
		return RosterImport{}, apperr.Invalid("no roster rows to import")
	}
	added, err := s.dir.AddRosterEntries(ctx, entries)
	if err != nil {
		return RosterImport{}, err
	}
	s.log.Info("verified roster imported", zap.Int("added", added), zap.Int("rejected", len(errs)))
	return RosterImport{Added: added, Existing: len(entries) - added, Errors: errs}, nil
}
