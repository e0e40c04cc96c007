package alerts

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Result is a small tabular query result.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Connector executes SQL against a schedule's bound data source.
type Connector interface {
	Query(ctx context.Context, dsn, query string, maxRows int) (*Result, error)
}

// SQLConnector reaches data sources through database/sql, picking the
// driver from the DSN scheme.
type SQLConnector struct{}

// NewSQLConnector creates the default connector.
func NewSQLConnector() *SQLConnector {
	return &SQLConnector{}
}

func driverFor(dsn string) (driver, source string, err error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return "postgres", dsn, nil
	case strings.HasPrefix(dsn, "sqlite://"):
		return "sqlite", strings.TrimPrefix(dsn, "sqlite://"), nil
	case strings.HasPrefix(dsn, "file:"):
		return "sqlite", dsn, nil
	default:
		return "", "", fmt.Errorf("unsupported data source %q", redactDSN(dsn))
	}
}

// Query runs the statement and materializes at most maxRows+1 rows, so the
// caller can detect overflow without draining the cursor.
func (c *SQLConnector) Query(ctx context.Context, dsn, query string, maxRows int) (*Result, error) {
	driver, source, err := driverFor(dsn)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("opening data source: %w", err)
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("getting columns: %w", err)
	}

	result := &Result{Columns: columns}

	for rows.Next() {
		if len(result.Rows) > maxRows {
			break
		}

		values := make([]any, len(columns))
		valuePtrs := make([]any, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		for i, val := range values {
			if b, ok := val.([]byte); ok {
				values[i] = string(b)
			}
		}

		result.Rows = append(result.Rows, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// redactDSN strips credentials before a DSN appears in an error message.
func redactDSN(dsn string) string {
	if at := strings.LastIndex(dsn, "@"); at > 0 {
		if scheme := strings.Index(dsn, "://"); scheme > 0 {
			return dsn[:scheme+3] + "***" + dsn[at:]
		}
	}
	return dsn
}
