package app

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"dbmcp/internal/config"
)

func testConfigWith(mutate func(*config.Config)) *Config {
	fileCfg := config.GetDefaultConfig()
	if mutate != nil {
		mutate(&fileCfg)
	}
	return &Config{Silent: true, File: &fileCfg}
}

func TestInitializeServices(t *testing.T) {
	ctx := context.Background()
	services, err := InitializeServices(ctx, testConfigWith(nil))
	if err != nil {
		t.Fatalf("InitializeServices failed: %v", err)
	}
	t.Cleanup(func() { _ = services.DB.Close() })

	if services.DB == nil {
		t.Fatal("DB not initialized")
	}
	if services.MCPServer == nil {
		t.Fatal("MCPServer not initialized")
	}
	if services.Transport == nil {
		t.Fatal("Transport not initialized")
	}

	tables, err := services.DB.ListTables(ctx)
	if err != nil {
		t.Fatalf("database not usable: %v", err)
	}
	if len(tables) != 0 {
		t.Errorf("fresh in-memory database should have no tables, got %v", tables)
	}
}

func TestInitializeServices_RegistersTools(t *testing.T) {
	ctx := context.Background()
	services, err := InitializeServices(ctx, testConfigWith(nil))
	if err != nil {
		t.Fatalf("InitializeServices failed: %v", err)
	}
	t.Cleanup(func() { _ = services.DB.Close() })

	resp := services.MCPServer.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshaling tools/list response: %v", err)
	}

	for _, name := range []string{"read_query", "write_query", "create_table", "list_tables", "describe_table", "export_schema"} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tool %s not registered", name)
		}
	}
}

func TestInitializeServices_AuthDiscoveryFailure(t *testing.T) {
	cfg := testConfigWith(func(c *config.Config) {
		c.Auth.Enabled = true
		c.Auth.Issuer = "http://127.0.0.1:1"
	})

	_, err := InitializeServices(context.Background(), cfg)
	if err == nil {
		t.Fatal("expected discovery failure")
	}
	if !strings.Contains(err.Error(), "initializing transport") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitializeServices_DatabaseFile(t *testing.T) {
	dbPath := t.TempDir() + "/svc.db"
	cfg := testConfigWith(func(c *config.Config) {
		c.Database.Path = dbPath
	})

	ctx := context.Background()
	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		t.Fatalf("InitializeServices failed: %v", err)
	}
	t.Cleanup(func() { _ = services.DB.Close() })

	if services.DB.Path() != dbPath {
		t.Errorf("DB.Path() = %q, want %q", services.DB.Path(), dbPath)
	}
}
