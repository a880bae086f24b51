package core

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"
)

// Entity types registered for the tests in this package.
const (
	testContacts = "test_contacts"
	testMembers  = "test_members"
	testPayments = "test_payments"
)

func TestMain(m *testing.M) {
	Register(EntityDefinition{
		Key:   testContacts,
		Label: "Contacts",
		Group: "Test",
		Fields: []FieldDefinition{
			{Key: "first_name", Label: "First Name", Required: true},
			{Key: "last_name", Label: "Last Name"},
			{Key: "email", Label: "Email", Unique: true, Format: FormatEmail},
		},
	})
	Register(EntityDefinition{
		Key:   testMembers,
		Label: "Members",
		Group: "Test",
		Fields: []FieldDefinition{
			{Key: "member_id", Label: "Member ID", Required: true, Unique: true},
			{Key: "name", Label: "Full Name", Required: true},
			{Key: "email", Label: "Email", Unique: true, Format: FormatEmail},
			{Key: "joined", Label: "Joined On", Format: FormatDate},
			{Key: "dues", Label: "Dues", Format: FormatNumber},
		},
	})
	Register(EntityDefinition{
		Key:   testPayments,
		Label: "Payments",
		Group: "Test",
		Fields: []FieldDefinition{
			{Key: "payment_id", Label: "Payment ID", Required: true, Unique: true},
			{Key: "member_id", Label: "Member", Required: true,
				References: &Reference{EntityType: testMembers, FieldKey: "member_id"}},
			{Key: "amount", Label: "Amount", Format: FormatNumber},
		},
	})
	os.Exit(m.Run())
}

// mustParse parses CSV text with default limits.
func mustParse(t *testing.T, csv string) *SourceTable {
	t.Helper()
	table, err := NewParser(ParserConfig{}).Parse(context.Background(), []byte(csv), "text/csv")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return table
}

// mustFields returns the fields of a registered entity type.
func mustFields(t *testing.T, entityType string) []FieldDefinition {
	t.Helper()
	fields, err := FieldsFor(entityType)
	if err != nil {
		t.Fatalf("FieldsFor(%q) error = %v", entityType, err)
	}
	return fields
}

// newTestService builds a service over a fresh memory store.
func newTestService(t *testing.T, opts Options) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, nil, opts)
	return svc, store
}

// fixedClock is a settable clock for Service.now.
type fixedClock struct{ at time.Time }

func (c *fixedClock) now() time.Time          { return c.at }
func (c *fixedClock) advance(d time.Duration) { c.at = c.at.Add(d) }

// csvLines joins lines into newline-terminated CSV text.
func csvLines(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}
