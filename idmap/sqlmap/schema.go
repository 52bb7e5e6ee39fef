package sqlmap

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	mapTablePrefix = "migrate_map_"

	sCHEMA_MAP_TABLE = `
		CREATE TABLE IF NOT EXISTS %s (
			source_ids_hash      TEXT PRIMARY KEY,
			source_ids           TEXT,
			destination_ids      TEXT,
			source_row_status    INT,
			row_hash             TEXT,
			last_imported        BIGINT,
			messages             TEXT
		);`
)

var unsafeTableChars = regexp.MustCompile(`[^a-z0-9_]+`)

// TableName returns the id map table of a migration. Characters that are not allowed in an
// unquoted identifier are replaced by underscores.
func TableName(migrationID string) string {
	name := unsafeTableChars.ReplaceAllString(strings.ToLower(migrationID), "_")
	return mapTablePrefix + strings.Trim(name, "_")
}

func createTableStatement(table string) string {
	return fmt.Sprintf(sCHEMA_MAP_TABLE, table)
}
