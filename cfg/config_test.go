package cfg

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestValidate_DefaultConfig(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.DataDir = t.TempDir()

	if err := Validate(); err != nil {
		t.Errorf("Expected no error for default config, got: %v", err)
	}

	// sqlite DSN is filled from the data dir
	if Config.Database.DSN != filepath.Join(Config.DataDir, "objectpack.db") {
		t.Errorf("Expected sqlite dsn under data dir, got %s", Config.Database.DSN)
	}
}

func TestValidate_InvalidPort(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	for _, port := range []int{-1, 0, 70000} {
		Config = Default()
		Config.Server.Port = port

		if err := Validate(); err == nil {
			t.Errorf("Expected error for invalid port %d", port)
		}
	}
}

func TestValidate_InvalidVerbosity(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Observer.Verbosity = "loud"

	if err := Validate(); err == nil {
		t.Error("Expected error for invalid observer verbosity")
	}
}

func TestValidate_Database(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Database.Driver = DriverMySQL
	if err := Validate(); err == nil {
		t.Error("Expected error for mysql without dsn")
	}

	Config = Default()
	Config.Database.Driver = "postgres"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown driver")
	}

	Config = Default()
	Config.Database.StatementCacheSize = 0
	if err := Validate(); err == nil {
		t.Error("Expected error for empty statement cache")
	}
}

func TestValidate_AuditSinks(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.Audit.Sink = SinkKafka
	if err := Validate(); err == nil || !strings.Contains(err.Error(), "broker") {
		t.Errorf("Expected broker error, got: %v", err)
	}

	Config = Default()
	Config.Audit.Sink = SinkKafka
	Config.Audit.Kafka.Brokers = []string{"localhost:9092"}
	if err := Validate(); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	Config = Default()
	Config.Audit.Sink = "carrier-pigeon"
	if err := Validate(); err == nil {
		t.Error("Expected error for unknown sink")
	}
}

func TestValidate_Packs(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	column := ColumnConfiguration{DataIndex: "name", Header: "Name"}

	tests := []struct {
		name  string
		packs []PackConfiguration
		want  string
	}{
		{"missing name", []PackConfiguration{{Table: "t", Columns: []ColumnConfiguration{column}}}, "no name"},
		{"missing table", []PackConfiguration{{Name: "p", Columns: []ColumnConfiguration{column}}}, "no table"},
		{"missing columns", []PackConfiguration{{Name: "p", Table: "t"}}, "no columns"},
		{"duplicate", []PackConfiguration{
			{Name: "p", Table: "t", Columns: []ColumnConfiguration{column}},
			{Name: "p", Table: "u", Columns: []ColumnConfiguration{column}},
		}, "duplicate pack name"},
		{"related column", []PackConfiguration{{Name: "p", Table: "t", Columns: []ColumnConfiguration{{DataIndex: "city.name"}}}}, "invalid column"},
		{"bad engine", []PackConfiguration{{Name: "p", Table: "t", Columns: []ColumnConfiguration{column}, FilterEngine: "tree"}}, "invalid filter engine"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config = Default()
			Config.Packs = tt.packs
			err := Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error containing %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestLoad_NonExistentFile(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	Config.InstanceID = 7
	Config.DataDir = t.TempDir()

	if err := Load("non-existent-file.toml"); err != nil {
		t.Errorf("Expected no error for non-existent file, got: %v", err)
	}

	if Config.Server.Port != 8000 {
		t.Errorf("Expected default port, got %d", Config.Server.Port)
	}
}

func TestLoad_File(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
instance_id = 42
data_dir = "` + filepath.ToSlash(dir) + `"

[server]
port = 9001

[observer]
verbosity = "calls"

[paging]
limit = 50

[[packs]]
name = "people"
table = "person"
list_sort_order = ["name"]

[[packs.columns]]
data_index = "name"
header = "Name"
type = "text"
searchable = true
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	Config = Default()
	if err := Load(path); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if Config.InstanceID != 42 {
		t.Errorf("Expected instance id 42, got %d", Config.InstanceID)
	}
	if Config.Server.Port != 9001 {
		t.Errorf("Expected port 9001, got %d", Config.Server.Port)
	}
	if Config.Paging.Limit != 50 {
		t.Errorf("Expected paging limit 50, got %d", Config.Paging.Limit)
	}
	if len(Config.Packs) != 1 || len(Config.Packs[0].Columns) != 1 {
		t.Fatalf("Expected one pack with one column, got %+v", Config.Packs)
	}
	if !Config.Packs[0].Columns[0].Searchable {
		t.Error("Expected searchable column")
	}
	if err := Validate(); err != nil {
		t.Errorf("Expected loaded config to validate, got: %v", err)
	}
}

func TestLoad_CreateDataDir(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := filepath.Join(t.TempDir(), "nested", "data")

	Config = Default()
	Config.InstanceID = 1
	Config.DataDir = tempDir

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if _, err := os.Stat(tempDir); os.IsNotExist(err) {
		t.Error("Data directory was not created")
	}
}

func TestLoad_CLIOverrides(t *testing.T) {
	original := Config
	defer func() { Config = original }()

	tempDir := t.TempDir()

	*DataDirFlag = tempDir
	*BindFlag = "127.0.0.1"
	*PortFlag = 9999

	defer func() {
		*DataDirFlag = ""
		*BindFlag = ""
		*PortFlag = 0
	}()

	Config = Default()
	Config.InstanceID = 3

	if err := Load(""); err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}

	if Config.DataDir != tempDir {
		t.Errorf("Expected data dir %s, got %s", tempDir, Config.DataDir)
	}
	if Config.Server.BindAddress != "127.0.0.1" {
		t.Errorf("Expected bind 127.0.0.1, got %s", Config.Server.BindAddress)
	}
	if Config.Server.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", Config.Server.Port)
	}
}

func BenchmarkValidate(b *testing.B) {
	original := Config
	defer func() { Config = original }()

	Config = Default()
	for i := 0; i < b.N; i++ {
		Validate()
	}
}
