package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// mcpServiceUser is the conversation identity MCP calls act under. MCP has
// no per-caller identity, so all tool conversations share one history.
const mcpServiceUser = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Catalog Catalog
	Chat    Chat
}

// NewMCPServer creates an MCP server exposing the bill catalog and chat as
// tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"billchat",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("billchat — search current legislative bills and ask questions about their text."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_bills",
			mcp.WithDescription("List cached legislative bills, optionally filtered by a case-insensitive substring over bill number, title and description."),
			mcp.WithString("query", mcp.Description("Optional filter text")),
		),
		mcpSearchBills(deps),
	)

	s.AddTool(
		mcp.NewTool("get_bill_text",
			mcp.WithDescription("Fetch and cache a bill's full text document; returns the state's public URL for it."),
			mcp.WithNumber("bill_id", mcp.Description("Numeric bill id"), mcp.Required()),
		),
		mcpGetBillText(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_bill",
			mcp.WithDescription("Ask a question about a bill; the answer is grounded in the bill's full text."),
			mcp.WithNumber("bill_id", mcp.Description("Numeric bill id"), mcp.Required()),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
		),
		mcpAskBill(deps),
	)

	return s
}

func mcpSearchBills(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := strings.ToLower(strings.TrimSpace(req.GetString("query", "")))

		bills, err := deps.Catalog.ListBills(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing bills failed: %v", err)), nil
		}

		type billResult struct {
			BillID      int64  `json:"bill_id"`
			Number      string `json:"number"`
			Title       string `json:"title"`
			Description string `json:"description"`
			LastAction  string `json:"last_action"`
			Tags        string `json:"tags,omitempty"`
		}

		results := make([]billResult, 0, len(bills))
		for _, b := range bills {
			if query != "" {
				haystack := strings.ToLower(b.Number + " " + b.Title + " " + b.Description)
				if !strings.Contains(haystack, query) {
					continue
				}
			}
			results = append(results, billResult{
				BillID:      b.BillID,
				Number:      b.Number,
				Title:       b.Title,
				Description: b.Description,
				LastAction:  b.LastAction,
				Tags:        b.Tags,
			})
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpGetBillText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		billID, err := req.RequireInt("bill_id")
		if err != nil {
			return mcpError("bill_id is required"), nil
		}

		url, err := deps.Catalog.FetchBillText(ctx, int64(billID))
		if err != nil {
			return mcpError(fmt.Sprintf("fetching bill text failed: %v", err)), nil
		}
		return mcpText(url), nil
	}
}

func mcpAskBill(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		billID, err := req.RequireInt("bill_id")
		if err != nil {
			return mcpError("bill_id is required"), nil
		}
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		reply, err := deps.Chat.Send(ctx, mcpServiceUser, int64(billID), question)
		if err != nil {
			return mcpError(fmt.Sprintf("asking about bill failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
