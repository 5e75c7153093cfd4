package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

func TestDumpExtractsPgxDiagnostics(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "idx_processed_events_key",
		TableName:      "processed_events",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeDependency, fmt.Errorf("insert marker: %w", pgErr), "mark processed")

	d := Dump(err)
	if d.Code != CodeDependency {
		t.Fatalf("unexpected code %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGTable != "processed_events" || d.PGConstraint != "idx_processed_events_key" {
		t.Fatalf("missing pg diagnostics: %+v", d)
	}
	if len(d.Chain) < 3 {
		t.Fatalf("expected full chain, got %v", d.Chain)
	}
	if !d.Retryable {
		t.Fatal("dependency errors should dump as retryable")
	}
}

func TestDumpExtractsPqDiagnostics(t *testing.T) {
	err := fmt.Errorf("upsert: %w", &pq.Error{Code: "23505", Table: "stock_lines"})
	d := Dump(err)
	if d.PGCode != "23505" || d.PGTable != "stock_lines" {
		t.Fatalf("missing pq diagnostics: %+v", d)
	}
}

func TestDumpNil(t *testing.T) {
	if d := Dump(nil); d.TopMessage != "" || d.Chain != nil {
		t.Fatalf("expected empty dump, got %+v", d)
	}
}

func TestDumpFieldsOmitEmptyDiagnostics(t *testing.T) {
	fields := Dump(New(CodeValidation, "sku required")).Fields()
	if fields["error_code"] != string(CodeValidation) {
		t.Fatalf("unexpected code field %v", fields["error_code"])
	}
	if fields["error_retryable"] != false {
		t.Fatalf("validation errors should not be retryable: %v", fields)
	}
	for _, key := range []string{"pg_code", "pg_table", "error_chain"} {
		if _, ok := fields[key]; ok {
			t.Fatalf("expected %s to be omitted: %v", key, fields)
		}
	}

	fields = Dump(fmt.Errorf("upsert: %w", &pq.Error{Code: "23505", Table: "stock_lines"})).Fields()
	if fields["pg_code"] != "23505" || fields["pg_table"] != "stock_lines" {
		t.Fatalf("missing pg fields: %v", fields)
	}
}
