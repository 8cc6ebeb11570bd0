package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsRegisteredInOrder(t *testing.T) {
	sorted := Migrations.Sorted()
	require.Len(t, sorted, 2)
	assert.Equal(t, "2024112201", sorted[0].Name)
	assert.Equal(t, "2024112202", sorted[1].Name)
}

func TestEmbeddedSchema(t *testing.T) {
	assert.Contains(t, createQuizzesSQL, "average_score")
	assert.Contains(t, createUsersAndHistorySQL, "quizzes_taken")
	assert.Contains(t, createUsersAndHistorySQL, "quiz_history_user_created_idx")
}
