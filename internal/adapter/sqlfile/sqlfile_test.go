package sqlfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSQL(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestEmitIR_CreateTableWithConstraints(t *testing.T) {
	dir := t.TempDir()
	writeSQL(t, dir, "001_users.sql", `
CREATE TABLE users (
    id BIGINT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    age INT DEFAULT 0,
    CHECK (age >= 0)
);
`)

	schema, err := New().EmitIR(dir, "")
	require.NoError(t, err)

	tbl, ok := schema.Tables["users"]
	require.True(t, ok, "expected a users table, got: %+v", schema.Tables)

	assert.Equal(t, []string{"id"}, tbl.PrimaryKey)

	email, ok := tbl.Columns["email"]
	require.True(t, ok)
	assert.False(t, email.Nullable, "expected email to be NOT NULL")

	require.Len(t, tbl.Uniques, 1)
	assert.Equal(t, []string{"email"}, tbl.Uniques[0])

	age, ok := tbl.Columns["age"]
	require.True(t, ok)
	require.NotNil(t, age.Default)
	assert.Equal(t, "0", *age.Default)

	assert.Len(t, tbl.Checks, 1)
}

func TestEmitIR_AlterTableAddsColumnAndIndex(t *testing.T) {
	dir := t.TempDir()
	writeSQL(t, dir, "001_base.sql", `
CREATE TABLE orders (
    id BIGINT PRIMARY KEY,
    customer_id BIGINT NOT NULL
);
`)
	writeSQL(t, dir, "002_alter.sql", `
ALTER TABLE orders ADD COLUMN status TEXT;
CREATE INDEX idx_orders_customer ON orders (customer_id);
`)

	schema, err := New().EmitIR(dir, "")
	require.NoError(t, err)

	tbl := schema.Tables["orders"]
	assert.Contains(t, tbl.Columns, "status", "expected ALTER TABLE ADD COLUMN to add the status column")

	idx, ok := tbl.Indexes["idx_orders_customer"]
	require.True(t, ok, "expected idx_orders_customer to be registered")
	assert.Equal(t, []string{"customer_id"}, idx.Columns)
}

func TestEmitIR_ForeignKeyAndModuleHint(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "billing")
	require.NoError(t, os.Mkdir(sub, 0o755))
	writeSQL(t, sub, "001_invoices.sql", `
CREATE TABLE customers (id BIGINT PRIMARY KEY);
CREATE TABLE invoices (
    id BIGINT PRIMARY KEY,
    customer_id BIGINT REFERENCES customers(id) ON DELETE CASCADE
);
`)

	schema, err := New().EmitIR(dir, "billing")
	require.NoError(t, err)

	invoices, ok := schema.Tables["invoices"]
	require.True(t, ok, "expected the billing module's invoices table to be ingested")
	require.Len(t, invoices.ForeignKeys, 1)
	for _, fk := range invoices.ForeignKeys {
		assert.Equal(t, "customers", fk.RefTable)
		assert.Equal(t, "CASCADE", fk.OnDelete)
	}
}

func TestEmitIR_EmptyDirectoryYieldsEmptySchema(t *testing.T) {
	dir := t.TempDir()
	schema, err := New().EmitIR(dir, "")
	require.NoError(t, err)
	assert.Empty(t, schema.Tables)
}
