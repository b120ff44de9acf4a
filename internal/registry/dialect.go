package registry

import (
	_ "embed"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

//go:embed schema_postgres.sql
var postgresSchema string

// dialect captures the SQL differences between the supported backends.
type dialect struct {
	name        string
	driver      string
	schema      string
	tableExists string
	lockSuffix  string
	numbered    bool
}

var (
	sqliteDialect = &dialect{
		name:        "sqlite",
		driver:      "sqlite",
		schema:      sqliteSchema,
		tableExists: "SELECT COUNT(1) FROM sqlite_master WHERE type='table' AND name='schema_version'",
	}
	postgresDialect = &dialect{
		name:        "postgres",
		driver:      "postgres",
		schema:      postgresSchema,
		tableExists: "SELECT COUNT(1) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'schema_version'",
		lockSuffix:  " FOR UPDATE",
		numbered:    true,
	}
)

func dialectFor(driver string) (*dialect, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "postgres", "postgresql", "pq":
		return postgresDialect, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
}

// rebind rewrites ? placeholders into $n for drivers that need them.
func (d *dialect) rebind(query string) string {
	if !d.numbered || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// sqliteDSN turns a database file path into a modernc DSN with the pragmas
// every connection needs. Write transactions start with BEGIN IMMEDIATE so
// concurrent batches serialize instead of failing on lock upgrade.
func sqliteDSN(path string, busyTimeoutMS int) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	if busyTimeoutMS <= 0 {
		busyTimeoutMS = 5000
	}
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	params.Add("_pragma", "journal_mode(WAL)")
	params.Set("_txlock", "immediate")
	return "file:" + path + "?" + params.Encode()
}
