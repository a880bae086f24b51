package entities

import "github.com/JonMunkholm/importer/internal/core"

func registerStudents() {
	core.Register(core.EntityDefinition{
		Key:   "students",
		Label: "Students",
		Group: groupPeople,
		Fields: []core.FieldDefinition{
			{Key: "student_id", Label: "Student ID", Required: true, Unique: true},
			{Key: "first_name", Label: "First Name", Required: true},
			{Key: "last_name", Label: "Last Name", Required: true},
			{Key: "email", Label: "Email", Unique: true, Format: core.FormatEmail},
			{Key: "date_of_birth", Label: "Date of Birth", Format: core.FormatDate},
			{Key: "enrollment_date", Label: "Enrollment Date", Format: core.FormatDate},
			{Key: "guardian_name", Label: "Guardian Name"},
			{Key: "guardian_email", Label: "Guardian Email", Format: core.FormatEmail},
			{Key: "phone", Label: "Phone"},
		},
	})
}

func registerTeachers() {
	core.Register(core.EntityDefinition{
		Key:   "teachers",
		Label: "Teachers",
		Group: groupPeople,
		Fields: []core.FieldDefinition{
			{Key: "employee_id", Label: "Employee ID", Required: true, Unique: true},
			{Key: "first_name", Label: "First Name", Required: true},
			{Key: "last_name", Label: "Last Name", Required: true},
			{Key: "email", Label: "Email", Required: true, Unique: true, Format: core.FormatEmail},
			{Key: "department", Label: "Department"},
			{Key: "hire_date", Label: "Hire Date", Format: core.FormatDate},
			{Key: "phone", Label: "Phone"},
		},
	})
}
