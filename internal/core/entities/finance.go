package entities

import "github.com/JonMunkholm/importer/internal/core"

func registerFees() {
	core.Register(core.EntityDefinition{
		Key:   "fees",
		Label: "Fees",
		Group: groupFinance,
		Fields: []core.FieldDefinition{
			{Key: "invoice_number", Label: "Invoice Number", Required: true, Unique: true},
			{Key: "student_id", Label: "Student ID", Required: true, References: ref("students", "student_id")},
			{Key: "amount", Label: "Amount", Required: true, Format: core.FormatNumber},
			{Key: "due_date", Label: "Due Date", Required: true, Format: core.FormatDate},
			{Key: "paid_date", Label: "Paid Date", Format: core.FormatDate},
			{Key: "description", Label: "Description"},
		},
	})
}
