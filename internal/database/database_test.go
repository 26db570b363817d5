package database_test

import (
	"testing"

	"github.com/Rzx-x/Ticket-Agent/internal/database"
	"github.com/Rzx-x/Ticket-Agent/internal/database/dbtest"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSyncSchemaCreatesTables(t *testing.T) {
	db := dbtest.New(t)

	assert.True(t, db.Migrator().HasTable(&model.Ticket{}))
	assert.True(t, db.Migrator().HasTable(&model.TicketInteraction{}))
	assert.True(t, db.Migrator().HasColumn(&model.Ticket{}, "ticket_number"))

	// idempotent
	require.NoError(t, database.SyncSchema(db))
	require.NoError(t, database.Ping(db))
}

func TestEnsureDatabaseRejectsBadURL(t *testing.T) {
	err := database.EnsureDatabase("postgres://localhost:5432/", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database name is empty")
}
