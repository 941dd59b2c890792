package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleet-policy/pkg/model"
)

func TestInitSQLiteMigrates(t *testing.T) {
	gdb, err := InitSQLite(":memory:")
	require.NoError(t, err)

	// Every model table exists after migration.
	for _, m := range model.All() {
		assert.True(t, gdb.Migrator().HasTable(m), "missing table for %T", m)
	}

	// Exactly one settings row is seeded, with no default policies.
	var rows []model.CoreSettings
	require.NoError(t, gdb.Find(&rows).Error)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].ServerPolicyID)
	assert.Nil(t, rows[0].WorkstationPolicyID)

	// Running migrate again must not seed a second settings row.
	require.NoError(t, migrate(gdb))
	rows = nil
	require.NoError(t, gdb.Find(&rows).Error)
	assert.Len(t, rows, 1)
}

func TestGetenvDefault(t *testing.T) {
	t.Setenv("DB_TEST_KEY", "set")
	assert.Equal(t, "set", getenv("DB_TEST_KEY", "fallback"))
	assert.Equal(t, "fallback", getenv("DB_TEST_MISSING_KEY", "fallback"))
}
