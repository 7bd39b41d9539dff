// Package export renders filtered student lists and full backups as downloadable files.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"deptportal/internal/apperr"
	"deptportal/internal/course"
	"deptportal/internal/metrics"
	"deptportal/internal/student"
)

// Formats accepted by Export.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// Field is an exportable student attribute.
type Field struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	value func(student.Record) string
}

// Fields lists every exportable attribute in display order.
var Fields = []Field{
	{"rollNumber", "Roll Number", func(r student.Record) string { return r.RollNumber }},
	{"name", "Name", func(r student.Record) string { return r.Name }},
	{"year", "Year", func(r student.Record) string { return r.Year }},
	{"section", "Section", func(r student.Record) string { return r.Section }},
	{"semester", "Semester", func(r student.Record) string { return r.Semester }},
	{"email", "Email", func(r student.Record) string { return r.Email }},
	{"phone", "Phone", func(r student.Record) string { return r.Phone }},
	{"cgpa", "CGPA", func(r student.Record) string { return r.CGPA }},
	{"attendance", "Attendance", func(r student.Record) string { return r.Attendance }},
	{"status", "Status", func(r student.Record) string { return string(r.Status) }},
	{"address", "Address", func(r student.Record) string { return r.Address }},
	{"parentName", "Parent Name", func(r student.Record) string { return r.ParentName }},
	{"parentPhone", "Parent Phone", func(r student.Record) string { return r.ParentPhone }},
	{"dateOfBirth", "Date of Birth", func(r student.Record) string { return r.DateOfBirth }},
	{"bloodGroup", "Blood Group", func(r student.Record) string { return r.BloodGroup }},
	{"category", "Category", func(r student.Record) string { return r.Category }},
	{"admissionDate", "Admission Date", func(r student.Record) string { return r.AdmissionDate }},
	{"hostelDetails", "Hostel Details", func(r student.Record) string { return r.HostelDetails }},
	{"emergencyContact", "Emergency Contact", func(r student.Record) string { return r.EmergencyContact }},
}

// DefaultFields is the preselected field set.
var DefaultFields = []string{"rollNumber", "name", "year", "section", "cgpa", "attendance", "status"}

func lookup(id string) (Field, bool) {
	for _, f := range Fields {
		if f.ID == id {
			return f, true
		}
	}
	return Field{}, false
}

// Options selects the format, filters and columns of an export.
type Options struct {
	Format string   `json:"format" form:"format"`
	Year   string   `json:"year" form:"year"`
	Status string   `json:"status" form:"status"`
	Fields []string `json:"fields" form:"fields"`
}

// File is a rendered download.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	Count       int
}

// Export filters records by year and status and renders the selected fields in selection order.
// It fails before rendering when no field is selected or no record matches.
func Export(records []student.Record, opts Options) (File, error) {
	format := strings.ToLower(strings.TrimSpace(opts.Format))
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatJSON && format != FormatXLSX {
		return File{}, apperr.Invalid("unsupported export format", apperr.FieldError{Field: "format", Message: "must be one of: csv json xlsx"})
	}
	if len(opts.Fields) == 0 {
		return File{}, apperr.Invalid("Please select at least one field to export")
	}
	fields := make([]Field, 0, len(opts.Fields))
	for _, id := range opts.Fields {
		f, ok := lookup(id)
		if !ok {
			return File{}, apperr.Invalid("unknown export field", apperr.FieldError{Field: "fields", Message: "unknown field " + id})
		}
		fields = append(fields, f)
	}

	rows := student.Filter{Year: opts.Year, Status: opts.Status}.Apply(records)
	if len(rows) == 0 {
		return File{}, apperr.Invalid("No students match the selected filters")
	}

	var (
		out File
		err error
	)
	switch format {
	case FormatCSV:
		out.Data, err = renderCSV(rows, fields)
		out.Name, out.ContentType = "students_export.csv", "text/csv; charset=utf-8"
	case FormatJSON:
		out.Data, err = renderJSON(rows, fields)
		out.Name, out.ContentType = "students_export.json", "application/json"
	case FormatXLSX:
		out.Data, err = renderXLSX(rows, fields)
		out.Name, out.ContentType = "students_export.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		return File{}, err
	}
	out.Count = len(rows)
	metrics.Exports.WithLabelValues(format).Inc()
	return out, nil
}

func renderCSV(rows []student.Record, fields []Field) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := make([]string, len(fields))
	for i, f := range fields {
		header[i] = f.Label
	}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	line := make([]string, len(fields))
	for _, r := range rows {
		for i, f := range fields {
			line[i] = f.value(r)
		}
		if err := w.Write(line); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

// renderJSON writes objects whose keys follow the selection order.
func renderJSON(rows []student.Record, fields []Field) ([]byte, error) {
	var compact bytes.Buffer
	compact.WriteByte('[')
	for i, r := range rows {
		if i > 0 {
			compact.WriteByte(',')
		}
		compact.WriteByte('{')
		for j, f := range fields {
			if j > 0 {
				compact.WriteByte(',')
			}
			k, _ := json.Marshal(f.ID)
			v, err := json.Marshal(f.value(r))
			if err != nil {
				return nil, err
			}
			compact.Write(k)
			compact.WriteByte(':')
			compact.Write(v)
		}
		compact.WriteByte('}')
	}
	compact.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "  "); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func renderXLSX(rows []student.Record, fields []Field) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()
	const sheet = "Students"
	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return nil, err
	}
	header := make([]any, len(fields))
	for i, fl := range fields {
		header[i] = fl.Label
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return nil, err
	}
	for n, r := range rows {
		line := make([]any, len(fields))
		for i, fl := range fields {
			line[i] = fl.value(r)
		}
		cell, err := excelize.CoordinatesToCellName(1, n+2)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(sheet, cell, &line); err != nil {
			return nil, err
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Backup is the full data dump offered from the settings tab.
type Backup struct {
	ExportedAt time.Time          `json:"exportedAt"`
	Students   []student.Record   `json:"students"`
	Courses    []course.Course    `json:"courses"`
	Timetables []course.Timetable `json:"timetables"`
}

// BackupName is database_backup_<YYYY-MM-DD>.json for the given day.
func BackupName(now time.Time) string {
	return fmt.Sprintf("database_backup_%s.json", now.UTC().Format("2006-01-02"))
}

// RenderBackup serializes a backup as indented JSON.
func RenderBackup(now time.Time, students []student.Record, courses []course.Course, timetables []course.Timetable) (File, error) {
	b := Backup{ExportedAt: now.UTC(), Students: students, Courses: courses, Timetables: timetables}
	if b.Students == nil {
		b.Students = []student.Record{}
	}
	if b.Courses == nil {
		b.Courses = []course.Course{}
	}
	if b.Timetables == nil {
		b.Timetables = []course.Timetable{}
	}
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return File{}, err
	}
	return File{Name: BackupName(now), ContentType: "application/json", Data: data, Count: len(students)}, nil
}
