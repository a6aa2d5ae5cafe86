package metadata

import (
	"fmt"

	"github.com/brinstore/brinstore/internal/brinerr"
)

// invalidPKTypes lists column type codes that cannot participate in a
// primary key. Type codes mirror the `type` field written by
// EncodeTableMetadata; callers assign their own numbering, this package
// only reserves a handful of well-known non-indexable types.
var invalidPKTypes = map[int64]bool{
	-1: true, // BLOB
	-2: true, // CLOB
}

// Validate runs the InvariantViolation checks spec.md §7 enumerates:
// duplicate FK name, duplicate column, auto-increment on multiple
// columns, and invalid PK type. It does not check ALTER-specific
// constraints; use ValidateAlterColumn for those.
func Validate(t *TableMetadata) error {
	seenCols := make(map[string]bool, len(t.Columns))
	colTypes := make(map[string]int64, len(t.Columns))
	for _, c := range t.Columns {
		if seenCols[c.Name] {
			return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("duplicate column %q", c.Name))
		}
		seenCols[c.Name] = true
		colTypes[c.Name] = c.Type
	}

	if t.AutoIncrement && len(t.PrimaryKey) > 1 {
		return brinerr.New(brinerr.InvariantViolation, "auto-increment set on a multi-column primary key")
	}

	for _, pk := range t.PrimaryKey {
		if typ, ok := colTypes[pk]; ok && invalidPKTypes[typ] {
			return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("column %q has a type invalid for a primary key", pk))
		}
	}

	seenFK := make(map[string]bool, len(t.ForeignKeys))
	for _, fk := range t.ForeignKeys {
		if seenFK[fk.Name] {
			return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("duplicate foreign key name %q", fk.Name))
		}
		seenFK[fk.Name] = true
		for _, col := range fk.Columns {
			if !seenCols[col] {
				return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("foreign key %q references unknown column %q", fk.Name, col))
			}
		}
	}

	return nil
}

// ValidateAlterColumn checks that an ALTER TABLE ... column reference
// names a column that actually exists on t.
func ValidateAlterColumn(t *TableMetadata, columnName string) error {
	for _, c := range t.Columns {
		if c.Name == columnName {
			return nil
		}
	}
	return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("unknown column %q in ALTER", columnName))
}

// ValidateDropColumn checks that an ALTER TABLE ... DROP COLUMN can proceed:
// the column must exist and must not be part of the table's primary key.
// Dropping a PK column would leave existing rows without the identity the
// key-to-page index is built on, so it is rejected outright rather than
// left for the caller to discover later.
func ValidateDropColumn(t *TableMetadata, columnName string) error {
	if err := ValidateAlterColumn(t, columnName); err != nil {
		return err
	}
	for _, pk := range t.PrimaryKey {
		if pk == columnName {
			return brinerr.New(brinerr.InvariantViolation, fmt.Sprintf("cannot drop column %q: part of the primary key", columnName))
		}
	}
	return nil
}
