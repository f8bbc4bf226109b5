package database

import (
	"strings"
	"testing"
)

// TestMigrationOrdering tests that embedded migrations exist and apply in
// lexical order
func TestMigrationOrdering(t *testing.T) {
	files, err := MigrationFiles()
	if err != nil {
		t.Fatalf("MigrationFiles failed: %v", err)
	}
	if len(files) < 2 {
		t.Fatalf("Expected at least 2 migrations, got %d", len(files))
	}
	for i := 1; i < len(files); i++ {
		if files[i-1] >= files[i] {
			t.Errorf("Migration %s not ordered before %s", files[i-1], files[i])
		}
	}
}

// TestSchemaMigrationCreatesTables tests the audit tables and their
// uniqueness guarantees
func TestSchemaMigrationCreatesTables(t *testing.T) {
	sql, err := MigrationSQL("001_trust_schema.sql")
	if err != nil {
		t.Fatalf("MigrationSQL failed: %v", err)
	}

	for _, want := range []string{
		"CREATE TABLE trust.audit_events",
		"CREATE TABLE trust.signature_evidence",
		"PRIMARY KEY (envelope_id, seq)",
		"CREATE UNIQUE INDEX idx_audit_events_hash",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("Schema migration missing %q", want)
		}
	}
}

// TestImmutabilityMigration tests that the evidence tables are locked down
// against mutation at both the privilege and trigger level
func TestImmutabilityMigration(t *testing.T) {
	sql, err := MigrationSQL("002_immutability.sql")
	if err != nil {
		t.Fatalf("MigrationSQL failed: %v", err)
	}

	for _, want := range []string{
		"REVOKE UPDATE, DELETE, TRUNCATE ON trust.audit_events",
		"REVOKE UPDATE, DELETE, TRUNCATE ON trust.signature_evidence",
		"BEFORE UPDATE OR DELETE ON trust.audit_events",
		"BEFORE UPDATE OR DELETE ON trust.signature_evidence",
		"RAISE EXCEPTION",
	} {
		if !strings.Contains(sql, want) {
			t.Errorf("Immutability migration missing %q", want)
		}
	}
}
