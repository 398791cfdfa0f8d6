package mcp

import "github.com/mark3labs/mcp-go/mcp"

// Every query tool accepts the same pinning arguments.
var pinOptions = []mcp.ToolOption{
	mcp.WithNumber("version",
		mcp.Description("Graph version to read (default: latest)"),
	),
	mcp.WithString("as_of",
		mcp.Description("RFC 3339 time at which evidence freshness is judged (default: now)"),
	),
}

func newQueryTool(name string, opts ...mcp.ToolOption) mcp.Tool {
	return mcp.NewTool(name, append(opts, pinOptions...)...)
}

// scoreOfTool defines the score_of MCP tool.
var scoreOfTool = newQueryTool("score_of",
	mcp.WithDescription("Get the 0-100 compliance score of a control, policy or framework."),
	mcp.WithString("id",
		mcp.Required(),
		mcp.Description("Control id, policy id or framework id"),
	),
)

// frameworkRollupTool defines the framework_rollup MCP tool.
var frameworkRollupTool = newQueryTool("framework_rollup",
	mcp.WithDescription("Summarize a framework: overall score, gap count and per-control scores and risk."),
	mcp.WithString("framework_id",
		mcp.Required(),
		mcp.Description("Framework id, e.g. SOC2"),
	),
)

// policyMatrixTool defines the policy_matrix MCP tool.
var policyMatrixTool = newQueryTool("policy_matrix",
	mcp.WithDescription("Score each policy against each framework."),
	mcp.WithString("policies",
		mcp.Description("Comma-separated policy ids (default: all policies)"),
	),
	mcp.WithString("frameworks",
		mcp.Description("Comma-separated framework ids (default: all frameworks)"),
	),
)

// unmappedControlsTool defines the unmapped_controls MCP tool.
var unmappedControlsTool = newQueryTool("unmapped_controls",
	mcp.WithDescription("List controls that no live policy maps to."),
	mcp.WithString("framework_id",
		mcp.Description("Restrict to one framework (default: all)"),
	),
)

// staleEvidenceTool defines the stale_evidence MCP tool.
var staleEvidenceTool = newQueryTool("stale_evidence",
	mcp.WithDescription("List links whose most recent evidence is past its freshness window."),
)

// brokenChainsTool defines the broken_chains MCP tool.
var brokenChainsTool = newQueryTool("broken_chains",
	mcp.WithDescription("List requirement traceability chains (tests, implements, validates) that stop before validation."),
	mcp.WithString("requirement_id",
		mcp.Description("Requirement to check (default: every requirement)"),
	),
)
