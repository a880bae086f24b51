package entities

import "github.com/JonMunkholm/importer/internal/core"

func registerSubjects() {
	core.Register(core.EntityDefinition{
		Key:   "subjects",
		Label: "Subjects",
		Group: groupAcademics,
		Fields: []core.FieldDefinition{
			{Key: "code", Label: "Subject Code", Required: true, Unique: true},
			{Key: "name", Label: "Subject Name", Required: true},
			{Key: "credits", Label: "Credits", Format: core.FormatNumber},
			{Key: "description", Label: "Description"},
		},
	})
}

func registerClasses() {
	core.Register(core.EntityDefinition{
		Key:   "classes",
		Label: "Classes",
		Group: groupAcademics,
		Fields: []core.FieldDefinition{
			{Key: "class_id", Label: "Class ID", Required: true, Unique: true},
			{Key: "name", Label: "Class Name", Required: true},
			{Key: "subject_code", Label: "Subject Code", References: ref("subjects", "code")},
			{Key: "teacher_id", Label: "Teacher ID", References: ref("teachers", "employee_id")},
			{Key: "room", Label: "Room"},
			{Key: "capacity", Label: "Capacity", Format: core.FormatNumber},
			{Key: "start_date", Label: "Start Date", Format: core.FormatDate},
		},
	})
}

func registerGrades() {
	core.Register(core.EntityDefinition{
		Key:   "grades",
		Label: "Grades",
		Group: groupAcademics,
		Fields: []core.FieldDefinition{
			{Key: "student_id", Label: "Student ID", Required: true, References: ref("students", "student_id")},
			{Key: "subject_code", Label: "Subject Code", Required: true, References: ref("subjects", "code")},
			{Key: "term", Label: "Term", Required: true},
			{Key: "score", Label: "Score", Required: true, Format: core.FormatNumber},
			{Key: "letter_grade", Label: "Letter Grade"},
			{Key: "graded_on", Label: "Graded On", Format: core.FormatDate},
		},
	})
}

func registerAttendance() {
	core.Register(core.EntityDefinition{
		Key:   "attendance",
		Label: "Attendance",
		Group: groupAcademics,
		Fields: []core.FieldDefinition{
			{Key: "student_id", Label: "Student ID", Required: true, References: ref("students", "student_id")},
			{Key: "class_id", Label: "Class ID", References: ref("classes", "class_id")},
			{Key: "date", Label: "Date", Required: true, Format: core.FormatDate},
			{Key: "status", Label: "Status", Required: true},
			{Key: "notes", Label: "Notes"},
		},
	})
}
