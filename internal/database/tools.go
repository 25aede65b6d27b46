package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"dbmcp/internal/auth"
)

// toolSet binds the tool handlers to a database handle and the optional
// write-scope requirement.
type toolSet struct {
	db         *DB
	writeScope string
}

// RegisterTools registers the database tool surface on the MCP server.
// When writeScope is non-empty, mutating tools require that scope from
// authenticated requests.
func RegisterTools(srv *server.MCPServer, db *DB, writeScope string) {
	ts := &toolSet{db: db, writeScope: writeScope}

	// Read query
	readQueryTool := mcp.NewTool("read_query",
		mcp.WithDescription("Execute a read-only SQL query (SELECT, WITH, EXPLAIN, PRAGMA) and return matching rows as JSON"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL query to execute"),
		),
	)
	srv.AddTool(readQueryTool, ts.handleReadQuery)

	// Write query
	writeQueryTool := mcp.NewTool("write_query",
		mcp.WithDescription("Execute an INSERT, UPDATE, or DELETE statement and return the affected row count"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The SQL statement to execute"),
		),
	)
	srv.AddTool(writeQueryTool, ts.handleWriteQuery)

	// Create table
	createTableTool := mcp.NewTool("create_table",
		mcp.WithDescription("Create a new table with a CREATE TABLE statement"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("The CREATE TABLE statement to execute"),
		),
	)
	srv.AddTool(createTableTool, ts.handleCreateTable)

	// List tables
	listTablesTool := mcp.NewTool("list_tables",
		mcp.WithDescription("List the names of all user tables in the database"),
	)
	srv.AddTool(listTablesTool, ts.handleListTables)

	// Describe table
	describeTableTool := mcp.NewTool("describe_table",
		mcp.WithDescription("Show the column layout of a table"),
		mcp.WithString("table",
			mcp.Required(),
			mcp.Description("Name of the table to describe"),
		),
	)
	srv.AddTool(describeTableTool, ts.handleDescribeTable)

	// Export schema
	exportSchemaTool := mcp.NewTool("export_schema",
		mcp.WithDescription("Export the CREATE statements of all tables, indexes, views, and triggers"),
	)
	srv.AddTool(exportSchemaTool, ts.handleExportSchema)
}

// requireWriteScope gates mutating tools. A nil principal means the request
// arrived without authentication (auth disabled, or a public path), which
// is the transport's decision, not this layer's.
func (t *toolSet) requireWriteScope(ctx context.Context) *mcp.CallToolResult {
	if t.writeScope == "" {
		return nil
	}
	principal := auth.PrincipalFromContext(ctx)
	if principal == nil || principal.HasScope(t.writeScope) {
		return nil
	}
	return mcp.NewToolResultError(fmt.Sprintf("insufficient scope: %s required", t.writeScope))
}

func (t *toolSet) handleReadQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required"), nil
	}

	result, err := t.db.ReadQuery(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Query failed: %v", err)), nil
	}
	return jsonResult(result)
}

func (t *toolSet) handleWriteQuery(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required"), nil
	}
	if denied := t.requireWriteScope(ctx); denied != nil {
		return denied, nil
	}
	if IsReadOnly(query) {
		return mcp.NewToolResultError("read-only statements are not allowed here: use read_query"), nil
	}

	affected, err := t.db.Execute(ctx, query)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Statement failed: %v", err)), nil
	}
	return jsonResult(map[string]any{"rowsAffected": affected})
}

func (t *toolSet) handleCreateTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError("query argument is required"), nil
	}
	if denied := t.requireWriteScope(ctx); denied != nil {
		return denied, nil
	}
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) < 2 || fields[0] != "CREATE" || fields[1] != "TABLE" {
		return mcp.NewToolResultError("statement must start with CREATE TABLE"), nil
	}

	if _, err := t.db.Execute(ctx, query); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Create table failed: %v", err)), nil
	}
	return mcp.NewToolResultText("table created successfully"), nil
}

func (t *toolSet) handleListTables(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tables, err := t.db.ListTables(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list tables: %v", err)), nil
	}
	return jsonResult(tables)
}

func (t *toolSet) handleDescribeTable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	table, err := request.RequireString("table")
	if err != nil {
		return mcp.NewToolResultError("table argument is required"), nil
	}

	columns, err := t.db.DescribeTable(ctx, table)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to describe table: %v", err)), nil
	}
	return jsonResult(columns)
}

func (t *toolSet) handleExportSchema(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	objects, err := t.db.Schema(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to export schema: %v", err)), nil
	}
	return jsonResult(objects)
}

// jsonResult renders v as indented JSON tool output.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to format result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
