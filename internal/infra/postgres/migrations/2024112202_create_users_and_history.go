package migrations

import _ "embed"

//go:embed 0002_create_users_and_history.sql
var createUsersAndHistorySQL string

func init() {
	Migrations.MustRegister(
		execAll(createUsersAndHistorySQL),
		execAll(`DROP TABLE IF EXISTS quiz_history`, `DROP TABLE IF EXISTS users`),
	)
}
