package sqlstore

import (
	"database/sql"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// SQLiteDriverName is the SQLite driver with the casefold function
// registered on every connection
const SQLiteDriverName = "sqlite3_objectpack"

func init() {
	sql.Register(SQLiteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			// LOWER() in SQLite only folds ASCII
			return conn.RegisterFunc("casefold", casefold, true)
		},
	})
}

func casefold(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return strings.ToLower(t)
	case []byte:
		return strings.ToLower(string(t))
	}
	return v
}
