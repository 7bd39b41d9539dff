package student

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no record matches a roll number.
	ErrNotFound = errors.New("student not found")
	// ErrDuplicateKey is returned when a roll number or email is already taken.
	ErrDuplicateKey = errors.New("a student with this roll number or email already exists")
)

// Status is the approval state of a record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected:
		return true
	}
	return false
}

// Record is one row of the students table.
type Record struct {
	ID               string    `json:"id"`
	RollNumber       string    `json:"rollNumber"`
	Name             string    `json:"name"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	Year             string    `json:"year"`
	Section          string    `json:"section"`
	Semester         string    `json:"semester"`
	CGPA             string    `json:"cgpa"`
	Attendance       string    `json:"attendance"`
	Status           Status    `json:"status"`
	Address          string    `json:"address"`
	ParentName       string    `json:"parentName"`
	ParentPhone      string    `json:"parentPhone"`
	EmergencyContact string    `json:"emergencyContact"`
	DateOfBirth      string    `json:"dateOfBirth"`
	BloodGroup       string    `json:"bloodGroup"`
	Category         string    `json:"category"`
	AdmissionDate    string    `json:"admissionDate"`
	HostelDetails    string    `json:"hostelDetails"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NewStudent is the input for creating a record.
type NewStudent struct {
	RollNumber       string `json:"rollNumber" validate:"required,max=20"`
	Name             string `json:"name" validate:"required,max=120"`
	Email            string `json:"email" validate:"required,email"`
	Phone            string `json:"phone" validate:"max=20"`
	Year             string `json:"year" validate:"omitempty,academic_year"`
	Section          string `json:"section" validate:"omitempty,oneof=A B C"`
	Semester         string `json:"semester" validate:"omitempty,semester"`
	CGPA             string `json:"cgpa" validate:"omitempty,cgpa"`
	Attendance       string `json:"attendance" validate:"omitempty,percent"`
	Status           Status `json:"status" validate:"omitempty,oneof=pending approved rejected"`
	Address          string `json:"address"`
	ParentName       string `json:"parentName"`
	ParentPhone      string `json:"parentPhone" validate:"max=20"`
	EmergencyContact string `json:"emergencyContact" validate:"max=20"`
	DateOfBirth      string `json:"dateOfBirth"`
	BloodGroup       string `json:"bloodGroup"`
	Category         string `json:"category"`
	AdmissionDate    string `json:"admissionDate"`
	HostelDetails    string `json:"hostelDetails"`
}

// Record converts the input into a record, normalizing keys.
func (n NewStudent) Record() Record {
	return Record{
		RollNumber:       NormalizeRoll(n.RollNumber),
		Name:             strings.TrimSpace(n.Name),
		Email:            NormalizeEmail(n.Email),
		Phone:            strings.TrimSpace(n.Phone),
		Year:             strings.TrimSpace(n.Year),
		Section:          strings.TrimSpace(n.Section),
		Semester:         strings.TrimSpace(n.Semester),
		CGPA:             strings.TrimSpace(n.CGPA),
		Attendance:       NormalizeAttendance(n.Attendance),
		Status:           n.Status,
		Address:          n.Address,
		ParentName:       n.ParentName,
		ParentPhone:      n.ParentPhone,
		EmergencyContact: n.EmergencyContact,
		DateOfBirth:      n.DateOfBirth,
		BloodGroup:       n.BloodGroup,
		Category:         n.Category,
		AdmissionDate:    n.AdmissionDate,
		HostelDetails:    n.HostelDetails,
	}
}

// Patch is a partial update. Nil fields are left untouched. The roll number is immutable.
type Patch struct {
	Name             *string `json:"name" validate:"omitempty,min=1,max=120"`
	Email            *string `json:"email" validate:"omitempty,email"`
	Phone            *string `json:"phone" validate:"omitempty,max=20"`
	Year             *string `json:"year" validate:"omitempty,academic_year"`
	Section          *string `json:"section" validate:"omitempty,oneof=A B C"`
	Semester         *string `json:"semester" validate:"omitempty,semester"`
	CGPA             *string `json:"cgpa" validate:"omitempty,cgpa"`
	Attendance       *string `json:"attendance" validate:"omitempty,percent"`
	Status           *Status `json:"status" validate:"omitempty,oneof=pending approved rejected"`
	Address          *string `json:"address"`
	ParentName       *string `json:"parentName"`
	ParentPhone      *string `json:"parentPhone" validate:"omitempty,max=20"`
	EmergencyContact *string `json:"emergencyContact" validate:"omitempty,max=20"`
	DateOfBirth      *string `json:"dateOfBirth"`
	BloodGroup       *string `json:"bloodGroup"`
	Category         *string `json:"category"`
	AdmissionDate    *string `json:"admissionDate"`
	HostelDetails    *string `json:"hostelDetails"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return len(p.columns()) == 0
}

type column struct {
	name  string
	value string
}

// columns lists the set fields as (db column, value) pairs in a stable order.
func (p Patch) columns() []column {
	var out []column
	add := func(name string, v *string) {
		if v != nil {
			out = append(out, column{name, *v})
		}
	}
	add("name", p.Name)
	add("email", p.Email)
	add("phone", p.Phone)
	add("year", p.Year)
	add("section", p.Section)
	add("semester", p.Semester)
	add("cgpa", p.CGPA)
	add("attendance", p.Attendance)
	if p.Status != nil {
		s := string(*p.Status)
		add("status", &s)
	}
	add("address", p.Address)
	add("parent_name", p.ParentName)
	add("parent_phone", p.ParentPhone)
	add("emergency_contact", p.EmergencyContact)
	add("date_of_birth", p.DateOfBirth)
	add("blood_group", p.BloodGroup)
	add("category", p.Category)
	add("admission_date", p.AdmissionDate)
	add("hostel_details", p.HostelDetails)
	return out
}

// normalize trims and canonicalizes the set fields.
func (p Patch) normalize() Patch {
	if p.Email != nil {
		e := NormalizeEmail(*p.Email)
		p.Email = &e
	}
	if p.Attendance != nil {
		a := NormalizeAttendance(*p.Attendance)
		p.Attendance = &a
	}
	if p.Name != nil {
		n := strings.TrimSpace(*p.Name)
		p.Name = &n
	}
	return p
}

// Apply merges the patch into r.
func (p Patch) Apply(r Record) Record {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	set(&r.Name, p.Name)
	set(&r.Email, p.Email)
	set(&r.Phone, p.Phone)
	set(&r.Year, p.Year)
	set(&r.Section, p.Section)
	set(&r.Semester, p.Semester)
	set(&r.CGPA, p.CGPA)
	set(&r.Attendance, p.Attendance)
	if p.Status != nil {
		r.Status = *p.Status
	}
	set(&r.Address, p.Address)
	set(&r.ParentName, p.ParentName)
	set(&r.ParentPhone, p.ParentPhone)
	set(&r.EmergencyContact, p.EmergencyContact)
	set(&r.DateOfBirth, p.DateOfBirth)
	set(&r.BloodGroup, p.BloodGroup)
	set(&r.Category, p.Category)
	set(&r.AdmissionDate, p.AdmissionDate)
	set(&r.HostelDetails, p.HostelDetails)
	return r
}

// NormalizeRoll trims and upper-cases a roll number.
func NormalizeRoll(roll string) string {
	return strings.ToUpper(strings.TrimSpace(roll))
}

// NormalizeEmail trims and lower-cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeAttendance appends '%' to a bare percentage.
func NormalizeAttendance(v string) string {
	v = strings.TrimSpace(v)
	if v == "" || strings.HasSuffix(v, "%") {
		return v
	}
	return v + "%"
}
