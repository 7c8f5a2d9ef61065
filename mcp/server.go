package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"mailbench/models"
)

// Server provides MCP access to a running benchmark daemon
type Server struct {
	apiURL string
	client *http.Client
}

// NewServer creates a new MCP server that connects to the benchmark daemon
func NewServer(apiURL string) *Server {
	return &Server{
		apiURL: strings.TrimRight(apiURL, "/"),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// GetMetricsInput defines input for get_metrics tool
type GetMetricsInput struct {
	Approach string `json:"approach,omitempty" jsonschema:"optional approach to report: object-storage or direct-inline"`
}

// GetMetricsOutput defines output for get_metrics tool
type GetMetricsOutput struct {
	Approaches []ApproachSummary `json:"approaches"`
}

// ApproachSummary is the latency summary of one approach without raw samples
type ApproachSummary struct {
	Approach string  `json:"approach"`
	Count    int     `json:"count"`
	Mean     float64 `json:"mean"`
	Min      int64   `json:"min"`
	Max      int64   `json:"max"`
}

// HealthOutput defines output for health tool
type HealthOutput struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// Run starts the MCP server
func (s *Server) Run(ctx context.Context) error {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "mailbench",
		Version: "1.0.0",
	}, nil)

	server.AddResource(
		&mcp.Resource{
			URI:         "benchmark://metrics",
			Name:        "Latency Metrics",
			Description: "Latency samples recorded for both ingestion approaches",
			MIMEType:    "application/json",
		},
		s.resourceMetrics,
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_metrics",
		Description: "Summarize recorded end-to-end latency per ingestion approach",
	}, s.getMetrics)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "health",
		Description: "Check that the benchmark daemon is up",
	}, s.health)

	// Run with stdio transport
	return server.Run(ctx, &mcp.StdioTransport{})
}

// resourceMetrics provides the raw metrics snapshot
func (s *Server) resourceMetrics(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	snapshot, err := s.fetchMetrics(ctx)
	if err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      "benchmark://metrics",
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// getMetrics tool implementation
func (s *Server) getMetrics(ctx context.Context, req *mcp.CallToolRequest, input GetMetricsInput) (*mcp.CallToolResult, *GetMetricsOutput, error) {
	snapshot, err := s.fetchMetrics(ctx)
	if err != nil {
		return nil, nil, err
	}

	return nil, summarize(snapshot, input.Approach), nil
}

// health tool implementation
func (s *Server) health(ctx context.Context, req *mcp.CallToolRequest, input struct{}) (*mcp.CallToolResult, *HealthOutput, error) {
	status, err := s.fetchHealth(ctx)
	if err != nil {
		return nil, nil, err
	}

	out := &HealthOutput{Status: status.Status}
	if status.Timestamp != nil {
		out.Timestamp = status.Timestamp.Format(time.RFC3339)
	}
	return nil, out, nil
}

// summarize reduces a snapshot to per-approach summaries, optionally
// keeping only one approach
func summarize(snapshot models.MetricsSnapshot, only string) *GetMetricsOutput {
	out := &GetMetricsOutput{Approaches: make([]ApproachSummary, 0, len(snapshot))}

	for _, approach := range models.Approaches {
		if only != "" && string(approach) != only {
			continue
		}
		stats := snapshot[approach]
		summary := ApproachSummary{
			Approach: string(approach),
			Count:    stats.Count,
			Mean:     stats.Mean,
		}
		for i, sample := range stats.Samples {
			if i == 0 || sample < summary.Min {
				summary.Min = sample
			}
			if i == 0 || sample > summary.Max {
				summary.Max = sample
			}
		}
		out.Approaches = append(out.Approaches, summary)
	}

	return out
}

// fetchMetrics retrieves the metrics snapshot from the daemon
func (s *Server) fetchMetrics(ctx context.Context) (models.MetricsSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/benchmark/metrics", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch metrics: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var snapshot models.MetricsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode metrics: %w", err)
	}

	return snapshot, nil
}

// fetchHealth calls the daemon's health endpoint
func (s *Server) fetchHealth(ctx context.Context) (*models.StatusResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/benchmark/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API returned status %d", resp.StatusCode)
	}

	var status models.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}

	return &status, nil
}
