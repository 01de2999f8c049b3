package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/nebula-firebird/pkg/connector/core"
	"github.com/ajitpratap0/nebula-firebird/pkg/nebulaerrors"
)

// Actions the extractor can run.
const (
	ActionRun            = "run"
	ActionTestConnection = "testConnection"
	ActionGetTables      = "getTables"
)

// DefaultLocalPort is the local end of the SSH tunnel when none is configured.
const DefaultLocalPort = 33006

// Config is the root of the extractor configuration.
type Config struct {
	Action     string     `yaml:"action" json:"action"`
	Parameters Parameters `yaml:"parameters" json:"parameters"`
}

// Parameters holds either a tables list or a single table row inline.
type Parameters struct {
	DB     *DBConfig     `yaml:"db" json:"db"`
	Tables []TableConfig `yaml:"tables" json:"tables"`

	TableConfig `yaml:",inline" json:",inline"`

	IncrementalFetchingColumn string `yaml:"incrementalFetchingColumn" json:"incrementalFetchingColumn"`
	IncrementalFetchingLimit  int    `yaml:"incrementalFetchingLimit" json:"incrementalFetchingLimit"`

	// Compress writes gzipped CSV files.
	Compress bool `yaml:"compress" json:"compress"`
}

// DBConfig holds the database connection parameters.
type DBConfig struct {
	DBName            string     `yaml:"dbname" json:"dbname"`
	Host              string     `yaml:"host" json:"host"`
	Port              FlexInt    `yaml:"port" json:"port"`
	User              string     `yaml:"user" json:"user"`
	Password          string     `yaml:"password" json:"password"`
	EncryptedPassword string     `yaml:"#password" json:"#password"`
	SSH               *SSHConfig `yaml:"ssh" json:"ssh"`
}

// SSHConfig configures the SSH tunnel to the database host.
type SSHConfig struct {
	Enabled    bool    `yaml:"enabled" json:"enabled"`
	Keys       SSHKeys `yaml:"keys" json:"keys"`
	SSHHost    string  `yaml:"sshHost" json:"sshHost"`
	SSHPort    FlexInt `yaml:"sshPort" json:"sshPort"`
	User       string  `yaml:"user" json:"user"`
	RemoteHost string  `yaml:"remoteHost" json:"remoteHost"`
	RemotePort FlexInt `yaml:"remotePort" json:"remotePort"`
	LocalPort  FlexInt `yaml:"localPort" json:"localPort"`
}

// SSHKeys holds the tunnel key pair. Only the private key is used.
type SSHKeys struct {
	Private string `yaml:"#private" json:"#private"`
	Public  string `yaml:"public" json:"public"`
}

// TableRef names a source table.
type TableRef struct {
	Schema    string `yaml:"schema" json:"schema"`
	TableName string `yaml:"tableName" json:"tableName"`
}

// TableConfig describes one exported table.
type TableConfig struct {
	ID          FlexInt   `yaml:"id" json:"id"`
	Name        string    `yaml:"name" json:"name"`
	Query       string    `yaml:"query" json:"query"`
	Table       *TableRef `yaml:"table" json:"table"`
	Columns     []string  `yaml:"columns" json:"columns"`
	OutputTable string    `yaml:"outputTable" json:"outputTable"`
	Incremental bool      `yaml:"incremental" json:"incremental"`
	Enabled     *bool     `yaml:"enabled" json:"enabled"`
	PrimaryKey  []string  `yaml:"primaryKey" json:"primaryKey"`
	Retries     *int      `yaml:"retries" json:"retries"`

	// Set on the single-row form only.
	IncrementalFetchingColumn string `yaml:"-" json:"-"`
	IncrementalFetchingLimit  int    `yaml:"-" json:"-"`
}

// IsEnabled reports whether the table should be exported. Tables are
// enabled unless switched off explicitly.
func (t TableConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// DisplayName is the name used in logs and error messages.
func (t TableConfig) DisplayName() string {
	switch {
	case t.Name != "":
		return t.Name
	case t.Table != nil && t.Table.TableName != "":
		return t.Table.TableName
	default:
		return t.OutputTable
	}
}

// MaxAttempts returns the attempt budget of the export query: the default
// when retries is unset, otherwise retries but at least one attempt.
func (t TableConfig) MaxAttempts(defaultAttempts int) int {
	if t.Retries == nil {
		return defaultAttempts
	}
	if *t.Retries < 1 {
		return 1
	}
	return *t.Retries
}

// Request converts the table into an extraction request. Incremental
// settings are resolved later, once the column is validated.
func (t TableConfig) Request() core.ExtractionRequest {
	req := core.ExtractionRequest{
		Query:   t.Query,
		Columns: t.Columns,
	}
	if t.Table != nil {
		req.Table = &core.TableRef{Schema: t.Table.Schema, TableName: t.Table.TableName}
	}
	return req
}

// IsRowConfig reports whether the configuration describes a single table
// inline instead of a tables list.
func (c *Config) IsRowConfig() bool {
	return len(c.Parameters.Tables) == 0
}

// ActionName returns the configured action, defaulting to run.
func (c *Config) ActionName() string {
	if c.Action == "" {
		return ActionRun
	}
	return c.Action
}

// Jobs returns the enabled tables to export, in configuration order.
func (c *Config) Jobs() []TableConfig {
	if c.IsRowConfig() {
		row := c.Parameters.TableConfig
		row.IncrementalFetchingColumn = c.Parameters.IncrementalFetchingColumn
		row.IncrementalFetchingLimit = c.Parameters.IncrementalFetchingLimit
		return []TableConfig{row}
	}

	jobs := make([]TableConfig, 0, len(c.Parameters.Tables))
	for _, table := range c.Parameters.Tables {
		if table.IsEnabled() {
			jobs = append(jobs, table)
		}
	}
	return jobs
}

// Validate checks the configuration before any database call.
func (c *Config) Validate() error {
	switch c.ActionName() {
	case ActionRun, ActionTestConnection, ActionGetTables:
	default:
		return nebulaerrors.Newf(nebulaerrors.KindConfiguration, "Action \"%s\" is not supported.", c.Action)
	}

	if c.Parameters.DB == nil {
		return nebulaerrors.New(nebulaerrors.KindConfiguration, "Parameter db is missing.")
	}
	if err := c.Parameters.DB.validate(); err != nil {
		return err
	}

	if c.ActionName() != ActionRun {
		return nil
	}

	if !c.IsRowConfig() && c.Parameters.IncrementalFetchingColumn != "" {
		return nebulaerrors.New(nebulaerrors.KindConfiguration,
			"Incremental fetching is only supported for single-table configurations.")
	}

	for _, table := range c.Parameters.Tables {
		if strings.TrimSpace(table.Name) == "" {
			return nebulaerrors.New(nebulaerrors.KindConfiguration, "Parameter tables[].name is missing.").
				WithDetail("output_table", table.OutputTable)
		}
	}

	for _, job := range c.Jobs() {
		if err := job.validate(); err != nil {
			return err
		}
	}
	return nil
}

func (t TableConfig) validate() error {
	invalid := func(format string, args ...interface{}) error {
		return nebulaerrors.Newf(nebulaerrors.KindConfiguration, format, args...).
			WithDetail("table", t.DisplayName())
	}

	hasTable := t.Table != nil && t.Table.TableName != ""
	hasQuery := strings.TrimSpace(t.Query) != ""

	switch {
	case hasTable && hasQuery:
		return invalid("Both \"table\" and \"query\" cannot be set together.")
	case !hasTable && !hasQuery:
		return invalid("The \"query\" or \"table\" option is required.")
	case hasQuery && t.IncrementalFetchingColumn != "":
		return invalid("Incremental fetching is not supported for advanced queries.")
	}

	if t.OutputTable == "" {
		return invalid("Parameter outputTable is missing.")
	}
	if t.IncrementalFetchingLimit < 0 {
		return invalid("Parameter incrementalFetchingLimit must be a non-negative number.")
	}
	if t.Retries != nil && *t.Retries < 0 {
		return invalid("Parameter retries must be a non-negative number.")
	}
	if t.IncrementalFetchingColumn != "" && len(t.Columns) > 0 && !containsFold(t.Columns, t.IncrementalFetchingColumn) {
		return invalid("Incremental fetching column [%s] must be one of the selected columns.", t.IncrementalFetchingColumn)
	}
	return nil
}

func (db *DBConfig) validate() error {
	params := db.ConnectionParameters()
	required := []struct {
		name  string
		value string
	}{
		{"dbname", params.DatabaseName},
		{"user", params.User},
		{"#password", params.Password},
	}
	for _, p := range required {
		if strings.TrimSpace(p.value) == "" {
			return nebulaerrors.Newf(nebulaerrors.KindConfiguration, "Parameter %s is missing.", p.name)
		}
	}
	return db.validateSSH()
}

func (db *DBConfig) validateSSH() error {
	if db.SSH == nil || !db.SSH.Enabled {
		return nil
	}

	required := []struct {
		name  string
		value string
	}{
		{"ssh.sshHost", db.SSH.SSHHost},
		{"ssh.user", db.SSH.User},
		{"ssh.keys.#private", db.SSH.Keys.Private},
	}
	for _, p := range required {
		if strings.TrimSpace(p.value) == "" {
			return nebulaerrors.Newf(nebulaerrors.KindConfiguration, "Parameter %s is missing.", p.name)
		}
	}
	return nil
}

// ConnectionParameters converts the db section. The encrypted password
// wins over the plain one.
func (db *DBConfig) ConnectionParameters() core.ConnectionParameters {
	password := db.EncryptedPassword
	if password == "" {
		password = db.Password
	}

	params := core.ConnectionParameters{
		DatabaseName: db.DBName,
		User:         db.User,
		Password:     password,
	}

	if db.SSH != nil && db.SSH.Enabled {
		params.SSH = &core.SSHParameters{
			Enabled:    true,
			Host:       db.SSH.SSHHost,
			Port:       db.SSH.SSHPort.OrDefault(22),
			User:       db.SSH.User,
			PrivateKey: db.SSH.Keys.Private,
			RemoteHost: db.SSH.RemoteHost,
			RemotePort: int(db.SSH.RemotePort),
			LocalPort:  db.SSH.LocalPort.OrDefault(DefaultLocalPort),
		}
	}
	return params
}

func containsFold(values []string, want string) bool {
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(want)) {
			return true
		}
	}
	return false
}

// FlexInt decodes from either a number or a numeric string; platform UIs
// store ports and ids both ways.
type FlexInt int

// UnmarshalYAML implements yaml.Unmarshaler.
func (f *FlexInt) UnmarshalYAML(node *yaml.Node) error {
	value := strings.TrimSpace(node.Value)
	if value == "" || value == "null" || value == "~" {
		*f = 0
		return nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("line %d: %q is not a valid number", node.Line, node.Value)
	}
	*f = FlexInt(n)
	return nil
}

// OrDefault returns f, or def when f is unset.
func (f FlexInt) OrDefault(def int) int {
	if f == 0 {
		return def
	}
	return int(f)
}
