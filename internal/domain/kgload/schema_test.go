package kgload

import (
	"errors"
	"fmt"
	"testing"
)

func TestParseColumn(t *testing.T) {
	tests := []struct {
		raw  string
		want Column
	}{
		{raw: "pmid", want: Column{Raw: "pmid", Name: "pmid"}},
		{raw: ":START_ID", want: Column{Raw: ":START_ID", Type: "START_ID"}},
		{raw: "cui:ID(Concept)", want: Column{Raw: "cui:ID(Concept)", Name: "cui", Type: "ID", IDSpace: "Concept"}},
		{raw: " synonyms:string[] ", want: Column{Raw: "synonyms:string[]", Name: "synonyms", Type: "string", Array: true}},
		{raw: "score:float", want: Column{Raw: "score:float", Name: "score", Type: "float"}},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			if got := ParseColumn(tt.raw); got != tt.want {
				t.Fatalf("ParseColumn(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestResolveColumn(t *testing.T) {
	schema, err := NewSchema("pred.header", []string{"PREDICATION_ID:ID", "SUBJECT_CUI", ":TYPE", "score:float"})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	tests := []struct {
		ref     string
		schema  *Schema
		want    int
		wantErr error
	}{
		{ref: "0", schema: schema, want: 0},
		{ref: "PREDICATION_ID", schema: schema, want: 0},
		{ref: ":TYPE", schema: schema, want: 2},
		{ref: "score", schema: schema, want: 3},
		{ref: "2", schema: nil, want: 2},
		{ref: "missing", schema: schema, wantErr: ErrColumnNotFound},
		{ref: "score", schema: nil, wantErr: ErrHeaderRequired},
		{ref: "9", schema: schema, wantErr: ErrInvalidColumnRef},
		{ref: "-1", schema: nil, wantErr: ErrInvalidColumnRef},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%v", tt.ref, tt.schema != nil), func(t *testing.T) {
			got, err := ResolveColumn(tt.ref, tt.schema)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("ResolveColumn() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveColumn() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ResolveColumn() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSchemaCheckWidthAndWithout(t *testing.T) {
	schema, err := NewSchema("aux.header", []string{"id", "score", "flag"})
	if err != nil {
		t.Fatalf("NewSchema() error = %v", err)
	}

	if err := schema.CheckWidth(3); err != nil {
		t.Fatalf("CheckWidth(3) error = %v", err)
	}
	if err := schema.CheckWidth(4); !errors.Is(err, ErrHeaderMismatch) {
		t.Fatalf("CheckWidth(4) error = %v, want ErrHeaderMismatch", err)
	}

	got := schema.Without(0)
	if !EqualTokens(got, []string{"score", "flag"}) {
		t.Fatalf("Without(0) = %v", got)
	}
}

func TestNewSchemaRejectsEmptyColumn(t *testing.T) {
	if _, err := NewSchema("x.header", []string{"a", " ", "b"}); err == nil {
		t.Fatalf("NewSchema() expected error for empty column")
	}
	if _, err := NewSchema("x.header", nil); err == nil {
		t.Fatalf("NewSchema() expected error for empty header")
	}
}
