// Package course manages the course catalogue and class timetables.
package course

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned for unknown course or timetable ids.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateCode is returned when a course code is already taken.
	ErrDuplicateCode = errors.New("a course with this code already exists")
)

// Course is a row of the courses table.
type Course struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Code        string    `json:"code"`
	Credits     int       `json:"credits"`
	Semester    int       `json:"semester"`
	Professor   string    `json:"professor"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// NewCourse is the input for adding a course.
type NewCourse struct {
	Name        string `json:"name" validate:"required,max=120"`
	Code        string `json:"code" validate:"required,max=20"`
	Credits     int    `json:"credits" validate:"omitempty,min=1,max=6"`
	Semester    int    `json:"semester" validate:"omitempty,min=1,max=8"`
	Professor   string `json:"professor" validate:"required,max=120"`
	Description string `json:"description" validate:"max=2000"`
}

func (n NewCourse) course() Course {
	c := Course{
		Name:        strings.TrimSpace(n.Name),
		Code:        strings.ToUpper(strings.TrimSpace(n.Code)),
		Credits:     n.Credits,
		Semester:    n.Semester,
		Professor:   strings.TrimSpace(n.Professor),
		Description: strings.TrimSpace(n.Description),
	}
	if c.Credits == 0 {
		c.Credits = 3
	}
	if c.Semester == 0 {
		c.Semester = 1
	}
	return c
}

// Slot is one period in a timetable.
type Slot struct {
	Day       string `json:"day" validate:"required,oneof=Monday Tuesday Wednesday Thursday Friday Saturday"`
	StartTime string `json:"startTime" validate:"required,datetime=15:04"`
	EndTime   string `json:"endTime" validate:"required,datetime=15:04"`
	Subject   string `json:"subject" validate:"required"`
	Professor string `json:"professor"`
	Room      string `json:"room"`
}

// Timetable is the weekly schedule of one class section.
type Timetable struct {
	ID        string    `json:"id"`
	Year      string    `json:"year"`
	Section   string    `json:"section"`
	Batch     string    `json:"batch"`
	Slots     []Slot    `json:"slots"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// NewTimetable is the input for creating a timetable.
type NewTimetable struct {
	Year    string `json:"year" validate:"required,academic_year"`
	Section string `json:"section" validate:"required,oneof=A B C"`
	Batch   string `json:"batch" validate:"omitempty,oneof=Morning Evening"`
	Slots   []Slot `json:"slots" validate:"required,min=1,dive"`
}

func (n NewTimetable) timetable() Timetable {
	t := Timetable{Year: n.Year, Section: n.Section, Batch: n.Batch, Slots: n.Slots}
	if t.Batch == "" {
		t.Batch = "Morning"
	}
	return t
}
