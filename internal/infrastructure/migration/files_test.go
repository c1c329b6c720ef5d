package migration

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add transfer index", "add_transfer_index"},
		{"Add-Transfer-Index", "add_transfer_index"},
		{"add__double", "add_double"},
		{"  padded  ", "padded"},
		{"drop!@#chars", "dropchars"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func TestCreateMigration(t *testing.T) {
	dir := t.TempDir()

	first, err := CreateMigration(dir, "create payments")
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.FileExists(t, first.UpPath)
	assert.FileExists(t, first.DownPath)
	assert.Equal(t, "000001_create_payments.up.sql", filepath.Base(first.UpPath))

	second, err := CreateMigration(dir, "Add Index")
	require.NoError(t, err)
	assert.Equal(t, uint(2), second.Version)

	list, err := ListMigrations(dir)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "create_payments", list[0].Name)
	assert.Equal(t, "add_index", list[1].Name)

	_, err = CreateMigration(dir, "!!!")
	assert.Error(t, err)
}

func TestListMigrations_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "000003_x.up.sql"), []byte("x"), 0o644))

	list, err := ListMigrations(dir)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, uint(3), list[0].Version)
	assert.Empty(t, list[0].DownPath)

	missing, err := ListMigrations(filepath.Join(dir, "nope"))
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestRepositoryMigrationsArePaired(t *testing.T) {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	dir := filepath.Join(filepath.Dir(file), "..", "..", "..", "migrations")

	list, err := ListMigrations(dir)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	for i, mf := range list {
		assert.Equal(t, uint(i+1), mf.Version, "migrations must be numbered sequentially")
		assert.NotEmpty(t, mf.UpPath, mf.Name)
		assert.NotEmpty(t, mf.DownPath, mf.Name)
	}
}
