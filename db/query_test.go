package db

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DachengChen/sqlpilot/backend"
)

type fakeRows struct {
	fields []pgconn.FieldDescription
	data   [][]any
	tag    pgconn.CommandTag
	err    error
	pos    int
	closed bool
}

func (r *fakeRows) Close()                                       { r.closed = true }
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return r.tag }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return r.fields }
func (r *fakeRows) Scan(...any) error                            { return errors.New("not supported") }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }

type fakeQuerier struct {
	rows *fakeRows
	err  error
	sql  string
}

func (q *fakeQuerier) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	q.sql = sql
	if q.err != nil {
		return nil, q.err
	}
	return q.rows, nil
}

func TestExecuteSelect(t *testing.T) {
	day := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{
			{Name: "order_date", DataTypeOID: pgtype.DateOID},
			{Name: "amount", DataTypeOID: pgtype.NumericOID},
			{Name: "customer", DataTypeOID: pgtype.TextOID},
		},
		data: [][]any{
			{day, pgtype.Numeric{Int: big.NewInt(12050), Exp: -2, Valid: true}, "alice"},
			{day, pgtype.Numeric{Int: big.NewInt(3), Valid: true}, nil},
		},
	}
	q := &fakeQuerier{rows: rows}

	rs, err := Execute(context.Background(), q, "  SELECT 1  ", 0)
	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", q.sql)
	assert.True(t, rows.closed)
	assert.Equal(t, []backend.ResultColumn{
		{Name: "order_date", Type: "DATE", Nullable: true},
		{Name: "amount", Type: "DECIMAL", Nullable: true},
		{Name: "customer", Type: "TEXT", Nullable: true},
	}, rs.Columns)
	assert.Equal(t, [][]any{
		{"2024-01-02", 120.5, "alice"},
		{"2024-01-02", 3.0, nil},
	}, rs.Data)
	assert.Equal(t, 2, rs.TotalRows)
}

func TestExecuteMaxRows(t *testing.T) {
	rows := &fakeRows{
		fields: []pgconn.FieldDescription{{Name: "n", DataTypeOID: pgtype.Int4OID}},
		data:   [][]any{{int32(1)}, {int32(2)}, {int32(3)}},
	}
	rs, err := Execute(context.Background(), &fakeQuerier{rows: rows}, "SELECT n", 2)
	require.NoError(t, err)
	assert.Len(t, rs.Data, 2)
	assert.Equal(t, 3, rs.TotalRows)
}

func TestExecuteCommand(t *testing.T) {
	rows := &fakeRows{tag: pgconn.NewCommandTag("UPDATE 3")}
	rs, err := Execute(context.Background(), &fakeQuerier{rows: rows}, "UPDATE t SET a = 1", 0)
	require.NoError(t, err)
	assert.False(t, rs.IsTabular())
	assert.Equal(t, int64(3), rs.AffectedRows)
	assert.Equal(t, "UPDATE 3", rs.Message)
}

func TestExecuteErrors(t *testing.T) {
	_, err := Execute(context.Background(), &fakeQuerier{}, "   ", 0)
	assert.Error(t, err)

	_, err = Execute(context.Background(), &fakeQuerier{err: errors.New("syntax error")}, "SELEC", 0)
	assert.ErrorContains(t, err, "syntax error")

	rows := &fakeRows{err: errors.New("conn reset")}
	_, err = Execute(context.Background(), &fakeQuerier{rows: rows}, "SELECT 1", 0)
	assert.ErrorContains(t, err, "conn reset")
}

func TestTypeName(t *testing.T) {
	tests := map[uint32]string{
		pgtype.Int8OID:        "BIGINT",
		pgtype.Float8OID:      "DOUBLE",
		pgtype.VarcharOID:     "VARCHAR",
		pgtype.TimestamptzOID: "TIMESTAMP WITH TIME ZONE",
		pgtype.BoolOID:        "BOOLEAN",
		999999:                "UNKNOWN",
	}
	for oid, want := range tests {
		assert.Equal(t, want, TypeName(oid), oid)
	}
}

func TestConvertValue(t *testing.T) {
	ts := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	id := [16]byte{0x12, 0x34}
	assert.Equal(t, "2024-03-04 05:06:07", ConvertValue(ts, "TIMESTAMP"))
	assert.Equal(t, "2024-03-04", ConvertValue(ts, "DATE"))
	assert.Equal(t, "12340000-0000-0000-0000-000000000000", ConvertValue(id, "UUID"))
	assert.Equal(t, "raw", ConvertValue([]byte("raw"), "BYTEA"))
	assert.Equal(t, `{"a":1}`, ConvertValue(map[string]any{"a": 1}, "JSONB"))
	assert.Equal(t, "01:02:03", ConvertValue(pgtype.Time{Microseconds: 3723 * 1e6, Valid: true}, "TIME"))
	assert.Nil(t, ConvertValue(pgtype.Numeric{}, "DECIMAL"))
	assert.Equal(t, int64(7), ConvertValue(int64(7), "BIGINT"))
}
