// Package all registers every engine backend and the SQL Server driver.
//
// Import it for side effects from a main package:
//
//	import _ "chartql/internal/storage/all"
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "chartql/internal/storage/mssql"
	_ "chartql/internal/storage/postgres"
	_ "chartql/internal/storage/sqlite"
)
