package traindb

import (
	"github.com/BurntSushi/migration"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
)

func Migrations(log logs.Log) []migration.Migrator {
	migs := []migration.Migrator{}
	idx := 0

	migs = append(migs, dbh.MakeMigrationFromSQL(log, &idx,
		`
		CREATE TABLE sample(
			id INTEGER PRIMARY KEY,
			label TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at INT NOT NULL
		);

		CREATE INDEX idx_sample_label ON sample(label);
	`))

	return migs
}
