// Package entities registers the importable record types with the core
// registry. Import it for side effects.
package entities

import "github.com/JonMunkholm/importer/internal/core"

const (
	groupPeople    = "People"
	groupAcademics = "Academics"
	groupFinance   = "Finance"
)

func init() {
	registerStudents()
	registerTeachers()
	registerSubjects()
	registerClasses()
	registerGrades()
	registerAttendance()
	registerFees()
}

// ref points a field at the key field of another entity type.
func ref(entityType, fieldKey string) *core.Reference {
	return &core.Reference{EntityType: entityType, FieldKey: fieldKey}
}
