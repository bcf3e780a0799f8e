package database

import (
	"database/sql"
	"fmt"
)

// SchemaValidator checks a database against the tables, columns and indexes
// the manager queries.
type SchemaValidator struct {
	db *sql.DB
}

// NewSchemaValidator creates a new schema validator
func NewSchemaValidator(db *sql.DB) *SchemaValidator {
	return &SchemaValidator{db: db}
}

// Validate runs every check: tables, columns, indexes and constraints
func (v *SchemaValidator) Validate() error {
	checks := []func() error{
		v.ValidateTablesExist,
		v.ValidateTableStructure,
		v.ValidateIndexes,
		v.ValidateConstraints,
	}
	for _, check := range checks {
		if err := check(); err != nil {
			return err
		}
	}
	return nil
}

// ValidateTablesExist verifies that all required tables exist
func (v *SchemaValidator) ValidateTablesExist() error {
	requiredTables := map[string]string{
		"symbols":           "Symbol catalog",
		"quotes":            "Published quote journal",
		"schema_migrations": "Migration tracking",
	}

	for table, description := range requiredTables {
		exists, err := v.objectExists("table", table)
		if err != nil {
			return fmt.Errorf("error checking table %s (%s): %w", table, description, err)
		}
		if !exists {
			return fmt.Errorf("required table %s (%s) does not exist", table, description)
		}
	}

	return nil
}

// ValidateTableStructure verifies table column types
func (v *SchemaValidator) ValidateTableStructure() error {
	symbolColumns := map[string]string{
		"name":       "TEXT",
		"created_at": "DATETIME",
	}
	if err := v.validateColumns("symbols", symbolColumns); err != nil {
		return fmt.Errorf("symbols table structure invalid: %w", err)
	}

	quoteColumns := map[string]string{
		"id":          "INTEGER",
		"symbol":      "TEXT",
		"best_bid":    "REAL",
		"best_ask":    "REAL",
		"timestamp":   "INTEGER",
		"recorded_at": "DATETIME",
	}
	if err := v.validateColumns("quotes", quoteColumns); err != nil {
		return fmt.Errorf("quotes table structure invalid: %w", err)
	}

	return nil
}

// ValidateIndexes verifies the indexes behind history reads and pruning
func (v *SchemaValidator) ValidateIndexes() error {
	requiredIndexes := map[string]string{
		"idx_quotes_symbol_time": "Quote history retrieval",
		"idx_quotes_timestamp":   "Journal retention",
		"idx_symbols_created_at": "Catalog listing",
	}

	for index, purpose := range requiredIndexes {
		exists, err := v.objectExists("index", index)
		if err != nil {
			return fmt.Errorf("error checking index %s (%s): %w", index, purpose, err)
		}
		if !exists {
			return fmt.Errorf("required index %s (%s) does not exist", index, purpose)
		}
	}

	return nil
}

// ValidateConstraints verifies that quotes cannot reference an unknown symbol.
// The check insert runs in a transaction that is always rolled back.
func (v *SchemaValidator) ValidateConstraints() error {
	tx, err := v.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin constraint check: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Exec(`
		INSERT INTO quotes (symbol, best_bid, best_ask, timestamp)
		VALUES ('__nonexistent__', 1, 2, 0)
	`)
	if err == nil {
		return fmt.Errorf("foreign key constraint not enforced: quotes.symbol")
	}
	return nil
}

// objectExists checks sqlite_master for a table or index
func (v *SchemaValidator) objectExists(kind, name string) (bool, error) {
	var count int
	err := v.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type=? AND name=?",
		kind, name,
	).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// validateColumns checks that a table has the expected columns with correct types
func (v *SchemaValidator) validateColumns(tableName string, expectedColumns map[string]string) error {
	rows, err := v.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	foundColumns := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, dataType string
		var notNull int
		var defaultValue interface{}
		var pk int

		if err := rows.Scan(&cid, &name, &dataType, &notNull, &defaultValue, &pk); err != nil {
			return err
		}
		foundColumns[name] = dataType
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for expectedCol, expectedType := range expectedColumns {
		foundType, exists := foundColumns[expectedCol]
		if !exists {
			return fmt.Errorf("column %s not found", expectedCol)
		}
		if foundType != expectedType {
			return fmt.Errorf("column %s has type %s, expected %s", expectedCol, foundType, expectedType)
		}
	}

	return nil
}
