package attendance

// TemplateName is the download name of the sample sheet.
const TemplateName = "attendance_template.csv"

const template = "Roll Number,Attendance\n23891A7201,85%\n23891A7202,92%\n24891A7201,78%"

// Template returns the sample sheet offered for download.
func Template() []byte {
	return []byte(template)
}
