package query

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/sink"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// ReasonSummary aggregates stored vectors sharing one end reason.
type ReasonSummary struct {
	EndReason    string  `json:"end_reason"`
	Flows        uint64  `json:"flows"`
	PartialFlows uint64  `json:"partial_flows"`
	Packets      uint64  `json:"packets"`
	Bytes        uint64  `json:"bytes"`
	MeanDuration float64 `json:"mean_duration_seconds"`
}

// VectorSummary is the answer to a summary query over a time window.
type VectorSummary struct {
	From    time.Time       `json:"from,omitempty"`
	To      time.Time       `json:"to,omitempty"`
	Reasons []ReasonSummary `json:"reasons"`
}

// Querier defines the interface for querying stored feature vectors.
type Querier interface {
	SummarizeVectors(ctx context.Context, from, to time.Time) (*VectorSummary, error)
}

// clickhouseQuerier implements the Querier interface for ClickHouse.
type clickhouseQuerier struct {
	conn  driver.Conn
	table string
}

// NewClickHouseQuerier creates a new querier for ClickHouse.
func NewClickHouseQuerier(cfg config.ClickHouseConfig) (Querier, error) {
	conn, err := sink.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return &clickhouseQuerier{conn: conn, table: sink.TableName(cfg)}, nil
}

// buildSummaryQuery returns the statement and its arguments. Zero times leave
// the window open on that side.
func buildSummaryQuery(table string, from, to time.Time) (string, []any) {
	var queryBuilder strings.Builder
	queryBuilder.WriteString(`
		SELECT
			EndReason,
			count() AS Flows,
			countIf(Partial) AS PartialFlows,
			sum(TotalPackets) AS Packets,
			sum(TotalBytes) AS Bytes,
			avg(Duration) AS MeanDuration
		FROM ` + table)

	var whereClauses []string
	args := []any{}
	if !from.IsZero() {
		whereClauses = append(whereClauses, "EndTime >= ?")
		args = append(args, from)
	}
	if !to.IsZero() {
		whereClauses = append(whereClauses, "EndTime <= ?")
		args = append(args, to)
	}
	if len(whereClauses) > 0 {
		queryBuilder.WriteString(" WHERE " + strings.Join(whereClauses, " AND "))
	}
	queryBuilder.WriteString(`
		GROUP BY EndReason
		ORDER BY Flows DESC
	`)
	return queryBuilder.String(), args
}

// SummarizeVectors groups stored vectors in [from, to] by end reason.
func (q *clickhouseQuerier) SummarizeVectors(ctx context.Context, from, to time.Time) (*VectorSummary, error) {
	stmt, args := buildSummaryQuery(q.table, from, to)
	rows, err := q.conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	summary := &VectorSummary{From: from, To: to, Reasons: []ReasonSummary{}}
	for rows.Next() {
		var r ReasonSummary
		if err := rows.Scan(&r.EndReason, &r.Flows, &r.PartialFlows, &r.Packets, &r.Bytes, &r.MeanDuration); err != nil {
			return nil, fmt.Errorf("failed to scan summary result: %w", err)
		}
		summary.Reasons = append(summary.Reasons, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read summary rows: %w", err)
	}
	return summary, nil
}
