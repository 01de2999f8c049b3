package pipeline

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/nebula-firebird/pkg/config"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/base"
	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
	"github.com/ajitpratap0/nebula-firebird/pkg/testutil"
)

const (
	columnLookup  = `FROM RDB\$RELATION_FIELDS`
	tablesLookup  = `FROM RDB\$RELATIONS`
	livenessProbe = `select 1 from rdb\$database`
)

var columnRowNames = []string{"FIELD_NAME", "FIELD_TYPE", "FIELD_SUB_TYPE", "FIELD_LENGTH", "NULLABLE"}

func exactly(query string) string {
	return "^" + regexp.QuoteMeta(query) + "$"
}

func testDB() *config.DBConfig {
	return &config.DBConfig{DBName: "firebird/3050:/data/shop.fdb", User: "SYSDBA", EncryptedPassword: "masterkey"}
}

func newTestApplication(t *testing.T, cfg *config.Config, dataDir string, state core.RunState, dbs ...*sql.DB) *Application {
	t.Helper()
	app, err := NewApplication(cfg, dataDir, state,
		WithOpener(testutil.MockOpener(dbs...)),
		WithRetryPolicy(base.NoDelayPolicy(3)),
		WithReconnectPolicy(base.NoDelayPolicy(1)),
		WithBufferSize(1),
		WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)
	return app
}

func readOutput(t *testing.T, dataDir, name string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dataDir, "out", "tables", name))
	require.NoError(t, err)
	return string(data)
}

func incrementalConfig() *config.Config {
	return &config.Config{
		Action: config.ActionRun,
		Parameters: config.Parameters{
			DB: testDB(),
			TableConfig: config.TableConfig{
				Name:        "orders",
				Table:       &config.TableRef{TableName: "ORDERS"},
				OutputTable: "in.c-main.orders",
				Incremental: true,
				PrimaryKey:  []string{"ID"},
			},
			IncrementalFetchingColumn: "id",
		},
	}
}

// runIncremental runs one export of ORDERS with ids, where maxID is what
// MAX() reports afterwards.
func runIncremental(t *testing.T, dataDir string, state core.RunState, query, maxQuery string, ids []int64, maxID int64) *Result {
	t.Helper()
	db, mock := testutil.NewSQLMock(t)

	mock.ExpectQuery(columnLookup).WithArgs("ORDERS", "ID").WillReturnRows(
		sqlmock.NewRows(columnRowNames).AddRow("ID", int16(8), int16(0), int16(4), int64(0)))

	rows := sqlmock.NewRows([]string{"ID", "NAME"})
	for _, id := range ids {
		rows.AddRow(id, "order")
	}
	mock.ExpectQuery(exactly(query)).WillReturnRows(rows)
	mock.ExpectQuery(exactly(maxQuery)).WillReturnRows(sqlmock.NewRows([]string{"ID"}).AddRow(maxID))
	mock.ExpectClose()

	app := newTestApplication(t, incrementalConfig(), dataDir, state, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NoError(t, app.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
	return result
}

func TestIncrementalFetchingByIntegerID(t *testing.T) {
	dataDir := t.TempDir()

	first := runIncremental(t, dataDir, core.RunState{},
		"SELECT * FROM ORDERS", "SELECT MAX(ID) AS ID FROM ORDERS",
		[]int64{1, 2}, 2)
	assert.Equal(t, ImportedTable{OutputTable: "in.c-main.orders", Rows: 2}, first.Imported)
	require.NotNil(t, first.State)
	assert.Equal(t, "2", first.State.LastFetchedRow)

	// the boundary row is fetched again, the state stays
	second := runIncremental(t, dataDir, *first.State,
		"SELECT * FROM ORDERS WHERE ID >= 2", "SELECT MAX(ID) AS ID FROM ORDERS WHERE ID >= 2",
		[]int64{2}, 2)
	assert.Equal(t, ImportedTable{OutputTable: "in.c-main.orders", Rows: 1}, second.Imported)
	assert.Equal(t, "2", second.State.LastFetchedRow)

	third := runIncremental(t, dataDir, *second.State,
		"SELECT * FROM ORDERS WHERE ID >= 2", "SELECT MAX(ID) AS ID FROM ORDERS WHERE ID >= 2",
		[]int64{2, 3, 4}, 4)
	assert.Equal(t, ImportedTable{OutputTable: "in.c-main.orders", Rows: 3}, third.Imported)
	assert.Equal(t, "4", third.State.LastFetchedRow)

	assert.Equal(t, "ID,NAME\n2,order\n3,order\n4,order\n", readOutput(t, dataDir, "in.c-main.orders.csv"))

	data, err := os.ReadFile(filepath.Join(dataDir, config.OutputStateFile))
	require.NoError(t, err)
	assert.JSONEq(t, `{"lastFetchedRow":"4"}`, string(data))

	var manifest map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(readOutput(t, dataDir, "in.c-main.orders.csv.manifest")), &manifest))
	assert.Equal(t, "in.c-main.orders", manifest["destination"])
	assert.Equal(t, true, manifest["incremental"])
}

func TestIncrementalFetchingWithLimit(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)

	cfg := incrementalConfig()
	cfg.Parameters.IncrementalFetchingLimit = 2

	mock.ExpectQuery(columnLookup).WithArgs("ORDERS", "ID").WillReturnRows(
		sqlmock.NewRows(columnRowNames).AddRow("ID", int16(8), int16(0), int16(4), int64(0)))
	mock.ExpectQuery(exactly("SELECT FIRST 2 * FROM ORDERS WHERE ID >= 10 ORDER BY ID")).WillReturnRows(
		sqlmock.NewRows([]string{"ID", "NAME"}).AddRow(int64(10), "a").AddRow(int64(11), "b"))
	mock.ExpectClose()

	app := newTestApplication(t, cfg, dataDir, core.RunState{LastFetchedRow: "10"}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// no MAX() query with a limit: the last emitted row wins
	assert.Equal(t, "11", result.State.LastFetchedRow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementalFetchingByCaseSensitiveColumn(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)

	cfg := incrementalConfig()
	cfg.Parameters.IncrementalFetchingColumn = `"Id"`
	cfg.Parameters.IncrementalFetchingLimit = 5

	mock.ExpectQuery(columnLookup).WithArgs("ORDERS", "Id").WillReturnRows(
		sqlmock.NewRows(columnRowNames).AddRow("Id", int16(8), int16(0), int16(4), int64(0)))
	mock.ExpectQuery(exactly(`SELECT FIRST 5 * FROM ORDERS WHERE "Id" >= 3 ORDER BY "Id"`)).WillReturnRows(
		sqlmock.NewRows([]string{"ID", "Id"}).AddRow(int64(100), int64(3)).AddRow(int64(50), int64(4)))
	mock.ExpectClose()

	app := newTestApplication(t, cfg, dataDir, core.RunState{LastFetchedRow: "3"}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NoError(t, app.Close())

	// the watermark follows "Id", not the upper-case ID column
	assert.Equal(t, "4", result.State.LastFetchedRow)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIncrementalColumnRejectedBeforeExport(t *testing.T) {
	db, mock := testutil.NewSQLMock(t)

	cfg := incrementalConfig()
	cfg.Parameters.IncrementalFetchingColumn = "NOTE"

	mock.ExpectQuery(columnLookup).WithArgs("ORDERS", "NOTE").WillReturnRows(
		sqlmock.NewRows(columnRowNames).AddRow("NOTE", int16(261), int16(1), int16(8), int64(1)))

	app := newTestApplication(t, cfg, t.TempDir(), core.RunState{}, db)
	_, err := app.Run(testutil.TestContext(t))
	require.Error(t, err)

	assert.Equal(t, "Column [NOTE] specified for incremental fetching is not a numeric or timestamp type column", err.Error())
	assert.Equal(t, nebulaerrors.ExitUserError, nebulaerrors.ExitCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFullExtractionOfTablesList(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)
	disabled := false

	cfg := &config.Config{Parameters: config.Parameters{
		DB: testDB(),
		Tables: []config.TableConfig{
			{
				Name:        "customers",
				Table:       &config.TableRef{TableName: "CUSTOMER"},
				Columns:     []string{"CUST_NO", "CUSTOMER"},
				OutputTable: "in.c-main.customer",
				PrimaryKey:  []string{"CUST_NO"},
			},
			{
				Name:        "skipped",
				Table:       &config.TableRef{TableName: "SKIPPED"},
				OutputTable: "in.c-main.skipped",
				Enabled:     &disabled,
			},
			{
				Name:        "countries",
				Query:       "SELECT COUNTRY FROM COUNTRY WHERE COUNTRY <> 'USA'",
				OutputTable: "in.c-main.country",
			},
		},
	}}

	mock.ExpectQuery(exactly("SELECT CUST_NO, CUSTOMER FROM CUSTOMER")).WillReturnRows(
		sqlmock.NewRows([]string{"CUST_NO", "CUSTOMER"}).
			AddRow(int64(1001), "Signature Design").
			AddRow(int64(1002), `Dallas "Technologies"`).
			AddRow(int64(1003), nil))
	mock.ExpectQuery(exactly("SELECT COUNTRY FROM COUNTRY WHERE COUNTRY <> 'USA'")).WillReturnRows(
		sqlmock.NewRows([]string{"COUNTRY"}).AddRow("England").AddRow("Japan"))
	mock.ExpectClose()

	app := newTestApplication(t, cfg, dataDir, core.RunState{}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NoError(t, app.Close())

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Nil(t, result.State)
	assert.Equal(t, []ImportedTable{
		{OutputTable: "in.c-main.customer", Rows: 3},
		{OutputTable: "in.c-main.country", Rows: 2},
	}, result.Imported)

	assert.Equal(t,
		"CUST_NO,CUSTOMER\n1001,Signature Design\n1002,\"Dallas \"\"Technologies\"\"\"\n1003,\n",
		readOutput(t, dataDir, "in.c-main.customer.csv"))
	assert.Equal(t, "COUNTRY\nEngland\nJapan\n", readOutput(t, dataDir, "in.c-main.country.csv"))

	_, err = os.Stat(filepath.Join(dataDir, config.OutputStateFile))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportRestartsFileOnRetry(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)

	cfg := &config.Config{Parameters: config.Parameters{
		DB: testDB(),
		TableConfig: config.TableConfig{
			Name:        "sales",
			Table:       &config.TableRef{TableName: "SALES"},
			OutputTable: "in.c-main.sales",
		},
	}}

	mock.ExpectQuery(exactly("SELECT * FROM SALES")).WillReturnRows(
		sqlmock.NewRows([]string{"PO"}).AddRow("V91E0210").AddRow("V92E0340").
			RowError(1, errors.New("connection reset by peer")))
	mock.ExpectQuery(livenessProbe).WillReturnRows(sqlmock.NewRows([]string{"CONSTANT"}).AddRow(1))
	mock.ExpectQuery(exactly("SELECT * FROM SALES")).WillReturnRows(
		sqlmock.NewRows([]string{"PO"}).AddRow("V91E0210").AddRow("V92E0340"))
	mock.ExpectClose()

	app := newTestApplication(t, cfg, dataDir, core.RunState{}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	require.NoError(t, app.Close())

	assert.Equal(t, ImportedTable{OutputTable: "in.c-main.sales", Rows: 2}, result.Imported)
	assert.Equal(t, "PO\nV91E0210\nV92E0340\n", readOutput(t, dataDir, "in.c-main.sales.csv"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExportExhaustsRetries(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)
	retries := 2

	cfg := &config.Config{Parameters: config.Parameters{
		DB: testDB(),
		TableConfig: config.TableConfig{
			Name:        "sales",
			Table:       &config.TableRef{TableName: "SALES"},
			OutputTable: "in.c-main.sales",
			Retries:     &retries,
		},
	}}

	mock.ExpectQuery(exactly("SELECT * FROM SALES")).WillReturnError(errors.New("deadlock"))
	mock.ExpectQuery(livenessProbe).WillReturnRows(sqlmock.NewRows([]string{"CONSTANT"}).AddRow(1))
	mock.ExpectQuery(exactly("SELECT * FROM SALES")).WillReturnError(errors.New("deadlock"))

	app := newTestApplication(t, cfg, dataDir, core.RunState{}, db)
	_, err := app.Run(testutil.TestContext(t))
	require.Error(t, err)

	assert.Equal(t, "Error executing [sales]: deadlock", err.Error())
	assert.True(t, nebulaerrors.IsKind(err, nebulaerrors.KindTransient))
	_, statErr := os.Stat(filepath.Join(dataDir, "out", "tables", "in.c-main.sales.csv"))
	assert.True(t, os.IsNotExist(statErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEmptyExportSkipsOutput(t *testing.T) {
	dataDir := t.TempDir()
	db, mock := testutil.NewSQLMock(t)

	cfg := &config.Config{Parameters: config.Parameters{
		DB: testDB(),
		TableConfig: config.TableConfig{
			Name:        "empty",
			Table:       &config.TableRef{TableName: "EMPTY"},
			OutputTable: "in.c-main.empty",
		},
	}}

	mock.ExpectQuery(exactly("SELECT * FROM EMPTY")).WillReturnRows(sqlmock.NewRows([]string{"ID"}))

	app := newTestApplication(t, cfg, dataDir, core.RunState{}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, ImportedTable{OutputTable: "in.c-main.empty", Rows: 0}, result.Imported)
	_, statErr := os.Stat(filepath.Join(dataDir, "out", "tables", "in.c-main.empty.csv"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(dataDir, "out", "tables", "in.c-main.empty.csv.manifest"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestGetTables(t *testing.T) {
	db, mock := testutil.NewSQLMock(t)

	mock.ExpectQuery(tablesLookup).WillReturnRows(
		sqlmock.NewRows([]string{"NAME", "IS_VIEW"}).AddRow("COUNTRY", 0).AddRow("PHONE_LIST", 1))
	mock.ExpectQuery(columnLookup).WithArgs("COUNTRY").WillReturnRows(
		sqlmock.NewRows(columnRowNames).
			AddRow("COUNTRY", int16(37), nil, int16(15), int64(0)).
			AddRow("CURRENCY", int16(37), nil, int16(10), int64(0)))
	mock.ExpectQuery(columnLookup).WithArgs("PHONE_LIST").WillReturnRows(
		sqlmock.NewRows(columnRowNames).AddRow("EMP_NO", int16(7), int16(0), int16(2), int64(1)))

	cfg := &config.Config{Action: config.ActionGetTables, Parameters: config.Parameters{DB: testDB()}}
	app := newTestApplication(t, cfg, t.TempDir(), core.RunState{}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)

	assert.Equal(t, []TableResult{
		{
			Name: "COUNTRY",
			Type: "table",
			Columns: []ColumnResult{
				{Name: "COUNTRY", SanitizedName: "COUNTRY", Type: "STRING", Length: 15},
				{Name: "CURRENCY", SanitizedName: "CURRENCY", Type: "STRING", Length: 10},
			},
		},
		{
			Name: "PHONE_LIST",
			Type: "view",
			Columns: []ColumnResult{
				{Name: "EMP_NO", SanitizedName: "EMP_NO", Type: "INTEGER", Length: 2, Nullable: true},
			},
		},
	}, result.Tables)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTestConnection(t *testing.T) {
	db, mock := testutil.NewSQLMock(t)
	mock.ExpectQuery(livenessProbe).WillReturnRows(sqlmock.NewRows([]string{"CONSTANT"}).AddRow(1))

	cfg := &config.Config{Action: config.ActionTestConnection, Parameters: config.Parameters{DB: testDB()}}
	app := newTestApplication(t, cfg, t.TempDir(), core.RunState{}, db)
	result, err := app.Run(testutil.TestContext(t))
	require.NoError(t, err)

	out, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success"}`, string(out))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSSHTunnelRewritesConnection(t *testing.T) {
	db, mock := testutil.NewSQLMock(t)
	mock.ExpectQuery(livenessProbe).WillReturnRows(sqlmock.NewRows([]string{"CONSTANT"}).AddRow(1))

	cfg := &config.Config{Action: config.ActionTestConnection, Parameters: config.Parameters{DB: &config.DBConfig{
		DBName:   "fb-internal/3051:/data/shop.fdb",
		User:     "SYSDBA",
		Password: "masterkey",
		SSH: &config.SSHConfig{
			Enabled: true,
			SSHHost: "bastion",
			User:    "tunnel",
			Keys:    config.SSHKeys{Private: "key"},
		},
	}}}

	var tunnelCfg core.SSHParameters
	var opened core.ConnectionParameters
	closer := &fakeCloser{}

	app, err := NewApplication(cfg, t.TempDir(), core.RunState{},
		WithTunnelOpener(func(_ context.Context, c core.SSHParameters) (Closer, error) {
			tunnelCfg = c
			return closer, nil
		}),
		WithOpener(func(_ context.Context, params core.ConnectionParameters) (*sql.DB, error) {
			opened = params
			return db, nil
		}),
		WithLogger(testutil.TestLogger(t)))
	require.NoError(t, err)

	_, err = app.Run(testutil.TestContext(t))
	require.NoError(t, err)
	mock.ExpectClose()
	require.NoError(t, app.Close())

	assert.Equal(t, "fb-internal", tunnelCfg.RemoteHost)
	assert.Equal(t, 3051, tunnelCfg.RemotePort)
	assert.Equal(t, config.DefaultLocalPort, tunnelCfg.LocalPort)
	assert.Equal(t, "127.0.0.1", opened.Host)
	assert.Equal(t, config.DefaultLocalPort, opened.Port)
	assert.True(t, closer.closed)
}

type fakeCloser struct{ closed bool }

func (c *fakeCloser) Close() error {
	c.closed = true
	return nil
}

func TestNewApplicationRejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{Parameters: config.Parameters{DB: testDB()}}
	_, err := NewApplication(cfg, t.TempDir(), core.RunState{})
	require.Error(t, err)
	assert.True(t, nebulaerrors.IsKind(err, nebulaerrors.KindConfiguration))
}

func TestUnknownDialect(t *testing.T) {
	cfg := &config.Config{Action: config.ActionTestConnection, Parameters: config.Parameters{DB: testDB()}}
	_, err := NewApplication(cfg, t.TempDir(), core.RunState{}, WithDialect("oracle"))
	assert.Error(t, err)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "ORDER_DATE", SanitizeName("ORDER DATE"))
	assert.Equal(t, "x_y", SanitizeName("__x--y__"))
	assert.Equal(t, "ID", SanitizeName("ID"))
}
