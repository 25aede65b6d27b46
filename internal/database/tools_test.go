package database

import (
	"context"
	"encoding/json"
	"testing"

	"dbmcp/internal/auth"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func textContent(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", result.Content[0])
	return text.Text
}

func TestToolSet_ReadQuery(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleReadQuery(context.Background(),
		callRequest("read_query", map[string]any{"query": "SELECT name FROM users ORDER BY name"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var parsed QueryResult
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &parsed))
	assert.Equal(t, []string{"name"}, parsed.Columns)
	assert.Equal(t, 2, parsed.Count)
	assert.Equal(t, "alice", parsed.Rows[0]["name"])
}

func TestToolSet_ReadQuery_MissingArgument(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleReadQuery(context.Background(), callRequest("read_query", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "query argument is required")
}

func TestToolSet_ReadQuery_RejectsWrite(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleReadQuery(context.Background(),
		callRequest("read_query", map[string]any{"query": "DELETE FROM users"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "read-only")
}

func TestToolSet_WriteQuery(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleWriteQuery(context.Background(),
		callRequest("write_query", map[string]any{"query": "UPDATE users SET email = 'redacted'"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var parsed struct {
		RowsAffected int64 `json:"rowsAffected"`
	}
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &parsed))
	assert.EqualValues(t, 2, parsed.RowsAffected)
}

func TestToolSet_WriteQuery_RejectsRead(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleWriteQuery(context.Background(),
		callRequest("write_query", map[string]any{"query": "SELECT * FROM users"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "use read_query")
}

func TestToolSet_CreateTable(t *testing.T) {
	db := openTestDB(t)
	ts := &toolSet{db: db}
	ctx := context.Background()

	result, err := ts.handleCreateTable(ctx,
		callRequest("create_table", map[string]any{"query": "CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT)"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, textContent(t, result), "created")

	tables, err := db.ListTables(ctx)
	require.NoError(t, err)
	assert.Contains(t, tables, "notes")
}

func TestToolSet_CreateTable_RejectsOtherDDL(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	for _, query := range []string{
		"DROP TABLE users",
		"CREATE INDEX idx ON users(name)",
		"SELECT 1",
	} {
		result, err := ts.handleCreateTable(context.Background(),
			callRequest("create_table", map[string]any{"query": query}))
		require.NoError(t, err)
		assert.True(t, result.IsError, "query %q should be rejected", query)
		assert.Contains(t, textContent(t, result), "must start with CREATE TABLE")
	}
}

func TestToolSet_ListTables(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleListTables(context.Background(), callRequest("list_tables", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var tables []string
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &tables))
	assert.Equal(t, []string{"users"}, tables)
}

func TestToolSet_DescribeTable(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleDescribeTable(context.Background(),
		callRequest("describe_table", map[string]any{"table": "users"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var columns []Column
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &columns))
	require.Len(t, columns, 3)
	assert.Equal(t, "id", columns[0].Name)
	assert.True(t, columns[0].PrimaryKey)
}

func TestToolSet_DescribeTable_Invalid(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleDescribeTable(context.Background(),
		callRequest("describe_table", map[string]any{"table": "users; DROP TABLE users"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, textContent(t, result), "invalid table name")
}

func TestToolSet_ExportSchema(t *testing.T) {
	ts := &toolSet{db: openTestDB(t)}

	result, err := ts.handleExportSchema(context.Background(), callRequest("export_schema", nil))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var objects []SchemaObject
	require.NoError(t, json.Unmarshal([]byte(textContent(t, result)), &objects))
	require.Len(t, objects, 1)
	assert.Equal(t, "table", objects[0].Type)
	assert.Contains(t, objects[0].SQL, "CREATE TABLE users")
}

func TestToolSet_WriteScope(t *testing.T) {
	ts := &toolSet{db: openTestDB(t), writeScope: "db:write"}
	writeArgs := map[string]any{"query": "DELETE FROM users WHERE name = 'bob'"}

	t.Run("unauthenticated request passes", func(t *testing.T) {
		result, err := ts.handleWriteQuery(context.Background(), callRequest("write_query", writeArgs))
		require.NoError(t, err)
		assert.False(t, result.IsError)
	})

	t.Run("principal with scope passes", func(t *testing.T) {
		ctx := auth.ContextWithPrincipal(context.Background(),
			&auth.Principal{Subject: "user-1", Scopes: []string{"db:read", "db:write"}})
		result, err := ts.handleWriteQuery(ctx,
			callRequest("write_query", map[string]any{"query": "INSERT INTO users (name) VALUES ('carol')"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
	})

	t.Run("principal without scope is refused", func(t *testing.T) {
		ctx := auth.ContextWithPrincipal(context.Background(),
			&auth.Principal{Subject: "user-2", Scopes: []string{"db:read"}})
		result, err := ts.handleWriteQuery(ctx, callRequest("write_query", writeArgs))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, textContent(t, result), "insufficient scope: db:write required")
	})

	t.Run("create_table is gated too", func(t *testing.T) {
		ctx := auth.ContextWithPrincipal(context.Background(),
			&auth.Principal{Subject: "user-2", Scopes: []string{"db:read"}})
		result, err := ts.handleCreateTable(ctx,
			callRequest("create_table", map[string]any{"query": "CREATE TABLE x (y INTEGER)"}))
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Contains(t, textContent(t, result), "insufficient scope")
	})

	t.Run("read tools are never gated", func(t *testing.T) {
		ctx := auth.ContextWithPrincipal(context.Background(),
			&auth.Principal{Subject: "user-2", Scopes: []string{"db:read"}})
		result, err := ts.handleReadQuery(ctx,
			callRequest("read_query", map[string]any{"query": "SELECT 1"}))
		require.NoError(t, err)
		assert.False(t, result.IsError)
	})
}

func TestRegisterTools(t *testing.T) {
	db := openTestDB(t)
	srv := server.NewMCPServer("db-test", "0.0.1", server.WithToolCapabilities(true))
	RegisterTools(srv, db, "")
	ctx := context.Background()

	resp := srv.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	require.NoError(t, err)
	for _, name := range []string{"read_query", "write_query", "create_table", "list_tables", "describe_table", "export_schema"} {
		assert.Contains(t, string(data), `"`+name+`"`)
	}

	resp = srv.HandleMessage(ctx, []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"list_tables","arguments":{}}}`))
	data, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.Contains(t, string(data), "users")
}
