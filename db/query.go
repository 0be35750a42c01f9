// query.go runs arbitrary SQL and converts pgx rows into the result set
// shape the backend's /execute returns, so the dashboard cannot tell the
// executors apart.
package db

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/DachengChen/sqlpilot/applog"
	"github.com/DachengChen/sqlpilot/backend"
)

// Querier is the part of a pgx pool used for execution.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

var typeMap = pgtype.NewMap()

// Execute runs an arbitrary SQL statement. Statements without a result
// description report the affected row count instead of columns.
func (d *DB) Execute(ctx context.Context, sql string) (*backend.ResultSet, error) {
	return Execute(ctx, d.Pool, sql, d.MaxRows)
}

// Execute runs sql on q. maxRows caps the collected rows when positive;
// TotalRows still counts every row read.
func Execute(ctx context.Context, q Querier, sql string, maxRows int) (*backend.ResultSet, error) {
	sql = strings.TrimSpace(sql)
	if sql == "" {
		return nil, fmt.Errorf("empty query")
	}

	start := time.Now()
	rows, err := q.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	rs := &backend.ResultSet{}
	types := make([]string, len(fields))
	for i, fd := range fields {
		types[i] = TypeName(fd.DataTypeOID)
		rs.Columns = append(rs.Columns, backend.ResultColumn{Name: fd.Name, Type: types[i], Nullable: true})
	}

	for rows.Next() {
		rs.TotalRows++
		if maxRows > 0 && len(rs.Data) >= maxRows {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = ConvertValue(v, types[i])
		}
		rs.Data = append(rs.Data, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(fields) == 0 {
		tag := rows.CommandTag()
		rs = &backend.ResultSet{AffectedRows: tag.RowsAffected(), Message: tag.String()}
	} else if rs.Data == nil {
		rs.Data = [][]any{}
	}
	applog.L().Info("direct query",
		zap.Int("rows", rs.TotalRows),
		zap.Int64("affected", rs.AffectedRows),
		zap.Duration("elapsed", time.Since(start).Round(time.Millisecond)),
	)
	return rs, nil
}

// TypeName maps a PostgreSQL type OID to the upper-case type names the
// backend reports.
func TypeName(oid uint32) string {
	t, ok := typeMap.TypeForOID(oid)
	if !ok {
		return "UNKNOWN"
	}
	switch t.Name {
	case "int2":
		return "SMALLINT"
	case "int4":
		return "INTEGER"
	case "int8":
		return "BIGINT"
	case "numeric":
		return "DECIMAL"
	case "float4":
		return "FLOAT"
	case "float8":
		return "DOUBLE"
	case "bpchar":
		return "CHAR"
	case "timestamptz":
		return "TIMESTAMP WITH TIME ZONE"
	case "bool":
		return "BOOLEAN"
	}
	return strings.ToUpper(t.Name)
}

// ConvertValue turns a decoded pgx value into a JSON-friendly scalar.
func ConvertValue(v any, typ string) any {
	switch x := v.(type) {
	case nil:
		return nil
	case pgtype.Numeric:
		if !x.Valid {
			return nil
		}
		if x.NaN {
			return "NaN"
		}
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}
		return f.Float64
	case *big.Int:
		return x.String()
	case time.Time:
		if typ == "DATE" {
			return x.Format("2006-01-02")
		}
		return x.Format("2006-01-02 15:04:05")
	case pgtype.Time:
		if !x.Valid {
			return nil
		}
		d := time.Duration(x.Microseconds) * time.Microsecond
		return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
	case pgtype.Interval:
		if !x.Valid {
			return nil
		}
		return fmt.Sprintf("%d months %d days %s", x.Months, x.Days, time.Duration(x.Microseconds)*time.Microsecond)
	case [16]byte:
		return uuid.UUID(x).String()
	case []byte:
		return string(x)
	case netip.Prefix:
		return x.String()
	case map[string]any, []any:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	case fmt.Stringer:
		return x.String()
	}
	return v
}
