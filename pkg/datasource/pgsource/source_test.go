package pgsource

import (
	"context"
	"database/sql"
	"errors"
	"reflect"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/nexlayer/nexlayer/pkg/datasource"
	"github.com/nexlayer/nexlayer/pkg/query"
)

type ticket struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Priority int    `json:"priority"`
}

type ticketMapper struct{}

func (ticketMapper) Columns() []string {
	return []string{"id", "title", "priority"}
}

func (ticketMapper) Values(record ticket) ([]interface{}, error) {
	return []interface{}{record.ID, record.Title, record.Priority}, nil
}

func (ticketMapper) Scan(rows *sql.Rows) (ticket, error) {
	var record ticket
	err := rows.Scan(&record.ID, &record.Title, &record.Priority)
	return record, err
}

func newTestSource(t *testing.T) (*Source[ticket, string], sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	src, err := NewFromDB[ticket, string](db, "tickets", "id", ticketMapper{}, func(r ticket) string { return r.ID }, query.StructAccessor[ticket]())
	if err != nil {
		t.Fatalf("NewFromDB: %v", err)
	}
	return src, mock
}

func ticketRows(tickets ...ticket) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "title", "priority"})
	for _, tk := range tickets {
		rows.AddRow(tk.ID, tk.Title, tk.Priority)
	}
	return rows
}

func TestNewFromDBValidation(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	idFn := func(r ticket) string { return r.ID }
	acc := query.StructAccessor[ticket]()

	if _, err := NewFromDB[ticket, string](db, "", "id", ticketMapper{}, idFn, acc); err == nil {
		t.Fatal("expected error for missing table")
	}
	if _, err := NewFromDB[ticket, string](db, "tickets", "id", nil, idFn, acc); err == nil {
		t.Fatal("expected error for missing mapper")
	}
	if _, err := NewFromDB[ticket, string](db, "tickets", "id", ticketMapper{}, nil, acc); err == nil {
		t.Fatal("expected error for missing id function")
	}
	if _, err := NewFromDB[ticket, string](db, "tickets; DROP TABLE users", "id", ticketMapper{}, idFn, acc); err == nil {
		t.Fatal("expected error for invalid table identifier")
	}
}

func TestBuildSelect(t *testing.T) {
	tests := []struct {
		name     string
		q        query.Query
		paginate bool
		wantSQL  string
		wantArgs []interface{}
	}{
		{
			name:    "no filters",
			q:       query.New(),
			wantSQL: "SELECT id, title, priority FROM tickets",
		},
		{
			name:     "equality and order",
			q:        query.New().Where("priority", query.Eq, 2).OrderBy("title", query.Asc),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE priority = $1 ORDER BY title ASC NULLS LAST",
			wantArgs: []interface{}{2},
		},
		{
			name:     "range filters share the placeholder sequence",
			q:        query.New().Where("priority", query.Gte, 1).Where("priority", query.Lt, 5),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE priority >= $1 AND priority < $2",
			wantArgs: []interface{}{1, 5},
		},
		{
			name:     "in expands placeholders",
			q:        query.New().Where("id", query.In, []string{"a", "b"}),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE id IN ($1, $2)",
			wantArgs: []interface{}{"a", "b"},
		},
		{
			name:    "empty in matches nothing",
			q:       query.New().Where("id", query.In, []string{}),
			wantSQL: "SELECT id, title, priority FROM tickets WHERE FALSE",
		},
		{
			name:    "empty not-in keeps present rows",
			q:       query.New().Where("id", query.NotIn, []string{}),
			wantSQL: "SELECT id, title, priority FROM tickets WHERE id IS NOT NULL",
		},
		{
			name:     "contains escapes like metacharacters",
			q:        query.New().Where("title", query.Contains, "50%_done"),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE title LIKE $1",
			wantArgs: []interface{}{`%50\%\_done%`},
		},
		{
			name:     "starts with",
			q:        query.New().Where("title", query.StartsWith, "bug:"),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE title LIKE $1",
			wantArgs: []interface{}{"bug:%"},
		},
		{
			name:    "null checks take no arguments",
			q:       query.New().Where("title", query.IsNull, nil).Where("priority", query.IsNotNull, nil),
			wantSQL: "SELECT id, title, priority FROM tickets WHERE title IS NULL AND priority IS NOT NULL",
		},
		{
			name:     "array contains",
			q:        query.New().Where("tags", query.ArrayContains, "urgent"),
			wantSQL:  "SELECT id, title, priority FROM tickets WHERE $1 = ANY(tags)",
			wantArgs: []interface{}{"urgent"},
		},
		{
			name:     "offset pagination",
			q:        query.New().OrderBy("priority", query.Desc).WithLimit(10).WithOffset(20),
			paginate: true,
			wantSQL:  "SELECT id, title, priority FROM tickets ORDER BY priority DESC NULLS LAST LIMIT 10 OFFSET 20",
		},
		{
			name:    "pagination suppressed for cursor callers",
			q:       query.New().WithLimit(10),
			wantSQL: "SELECT id, title, priority FROM tickets",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			gotSQL, gotArgs, err := BuildSelect("id, title, priority", "tickets", tc.q, tc.paginate)
			if err != nil {
				t.Fatalf("BuildSelect: %v", err)
			}
			if gotSQL != tc.wantSQL {
				t.Errorf("sql = %q, want %q", gotSQL, tc.wantSQL)
			}
			if len(gotArgs) != len(tc.wantArgs) {
				t.Fatalf("args = %v, want %v", gotArgs, tc.wantArgs)
			}
			for i := range gotArgs {
				if !reflect.DeepEqual(gotArgs[i], tc.wantArgs[i]) {
					t.Errorf("args[%d] = %v, want %v", i, gotArgs[i], tc.wantArgs[i])
				}
			}
		})
	}
}

func TestBuildSelectRejectsBadField(t *testing.T) {
	q := query.New().Where("title; --", query.Eq, "x")
	if _, _, err := BuildSelect("id", "tickets", q, false); err == nil {
		t.Fatal("expected error for invalid field identifier")
	}
}

func TestGet(t *testing.T) {
	src, mock := newTestSource(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, priority FROM tickets WHERE id = $1")).
		WithArgs("t1").
		WillReturnRows(ticketRows(ticket{ID: "t1", Title: "leaky faucet", Priority: 2}))

	got, err := src.Get(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "leaky faucet" || got.Priority != 2 {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetNotFound(t *testing.T) {
	src, mock := newTestSource(t)

	mock.ExpectQuery("SELECT .+ FROM tickets").
		WithArgs("missing").
		WillReturnRows(ticketRows())

	_, err := src.Get(context.Background(), "missing")
	if !errors.Is(err, datasource.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestGetClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		driverErr error
		retryable bool
	}{
		{"transport failure is retryable", errors.New("connection refused"), true},
		{"server rejection is not", &pq.Error{Code: "42P01", Message: "relation does not exist"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			src, mock := newTestSource(t)
			mock.ExpectQuery("SELECT .+ FROM tickets").WillReturnError(tc.driverErr)

			_, err := src.Get(context.Background(), "t1")
			if !errors.Is(err, datasource.ErrNetwork) {
				t.Fatalf("err = %v, want network error", err)
			}
			if got := datasource.IsRetryable(err); got != tc.retryable {
				t.Errorf("IsRetryable = %v, want %v", got, tc.retryable)
			}
		})
	}
}

func TestGetAll(t *testing.T) {
	src, mock := newTestSource(t)

	q := query.New().Where("priority", query.Gte, 2).OrderBy("title", query.Asc).WithLimit(2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, priority FROM tickets WHERE priority >= $1 ORDER BY title ASC NULLS LAST LIMIT 2")).
		WithArgs(2).
		WillReturnRows(ticketRows(
			ticket{ID: "t2", Title: "broken window", Priority: 3},
			ticket{ID: "t1", Title: "leaky faucet", Priority: 2},
		))

	got, err := src.GetAll(context.Background(), q)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t2" {
		t.Errorf("got %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestGetAllCursorPaginatesInMemory(t *testing.T) {
	src, mock := newTestSource(t)

	// Cursor queries must not push LIMIT into SQL: the evaluator owns
	// the window.
	q := query.New().OrderBy("priority", query.Asc).First(2)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, title, priority FROM tickets ORDER BY priority ASC NULLS LAST")).
		WillReturnRows(ticketRows(
			ticket{ID: "t1", Title: "a", Priority: 1},
			ticket{ID: "t2", Title: "b", Priority: 2},
			ticket{ID: "t3", Title: "c", Priority: 3},
		))

	got, err := src.GetAll(context.Background(), q)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(got) != 2 || got[0].ID != "t1" || got[1].ID != "t2" {
		t.Errorf("got %+v, want first two tickets", got)
	}
}

func TestSaveUpserts(t *testing.T) {
	src, mock := newTestSource(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO tickets (id, title, priority) VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, priority = EXCLUDED.priority")).
		WithArgs("t1", "leaky faucet", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := src.Save(context.Background(), ticket{ID: "t1", Title: "leaky faucet", Priority: 2}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSaveReturningReportsStoredRow(t *testing.T) {
	src, mock := newTestSource(t)

	// The stored row differs from the submitted one, as a trigger or
	// default would produce.
	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, priority = EXCLUDED.priority RETURNING id, title, priority")).
		WithArgs("t1", "leaky faucet", 0).
		WillReturnRows(ticketRows(ticket{ID: "t1", Title: "leaky faucet", Priority: 1}))

	stored, err := src.SaveReturning(context.Background(), ticket{ID: "t1", Title: "leaky faucet"})
	if err != nil {
		t.Fatalf("SaveReturning: %v", err)
	}
	if stored.Priority != 1 {
		t.Errorf("stored = %+v, want server-assigned priority 1", stored)
	}
}

func TestDelete(t *testing.T) {
	src, mock := newTestSource(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM tickets WHERE id = $1")).
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := src.Delete(context.Background(), "t1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
}

func TestDeleteMissingRow(t *testing.T) {
	src, mock := newTestSource(t)

	mock.ExpectExec("DELETE FROM tickets").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := src.Delete(context.Background(), "missing"); !errors.Is(err, datasource.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestCapabilities(t *testing.T) {
	src, _ := newTestSource(t)
	caps := src.Capabilities()
	if !caps.SupportsNativeFiltering {
		t.Error("expected native filtering support")
	}
	if caps.SupportsOffline {
		t.Error("postgres source must not report offline support")
	}
}
