// Package attendance parses bulk attendance sheets and applies them to student records.
package attendance

import (
	"fmt"
	"strings"

	"deptportal/internal/student"
	"deptportal/internal/validate"
)

// Row is one accepted line of an attendance sheet.
type Row struct {
	RollNumber  string `json:"rollNumber"`
	Attendance  string `json:"attendance"`
	StudentName string `json:"studentName,omitempty"`
}

// Preview is the outcome of parsing: accepted rows plus line-numbered errors.
type Preview struct {
	Rows   []Row    `json:"rows"`
	Errors []string `json:"errors"`
}

// Parse reads "Roll Number,Attendance" text. The first line is the header and is line 0.
// Bad lines are reported and skipped; they never stop later lines from being read.
func Parse(text string) Preview {
	p := Preview{Rows: []Row{}, Errors: []string{}}
	lines := strings.Split(text, "\n")
	for i := 1; i < len(lines); i++ {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		roll := strings.TrimSpace(fields[0])
		value := ""
		if len(fields) > 1 {
			value = strings.TrimSpace(fields[1])
		}
		p.add(i, roll, value)
	}
	return p
}

func (p *Preview) add(line int, roll, value string) {
	if roll == "" || value == "" {
		p.Errors = append(p.Errors, fmt.Sprintf("Line %d: Missing roll number or attendance", line))
		return
	}
	if _, ok := validate.Percent(value); !ok {
		p.Errors = append(p.Errors, fmt.Sprintf("Line %d: Invalid attendance percentage for %s", line, roll))
		return
	}
	p.Rows = append(p.Rows, Row{
		RollNumber: student.NormalizeRoll(roll),
		Attendance: student.NormalizeAttendance(value),
	})
}
