package sink

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"context"
	"fmt"
	"log"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// DefaultTable is used when the clickhouse block names no table.
const DefaultTable = "flow_vectors"

const createTableStatement = `
CREATE TABLE IF NOT EXISTS %s (
    FlowID        UUID,
    SchemaVersion UInt16,
    SrcIP         String,
    SrcPort       UInt16,
    DstIP         String,
    DstPort       UInt16,
    Protocol      UInt8,
    StartTime     DateTime64(6),
    EndTime       DateTime64(6),
    EndReason     LowCardinality(String),
    Partial       Bool,
    Duration      Float64,
    TotalPackets  UInt64,
    TotalBytes    UInt64,
    Features      Array(Float64)
) ENGINE = MergeTree()
PARTITION BY toYYYYMM(EndTime)
ORDER BY (EndTime, SrcIP, DstIP);
`

func init() {
	Register("clickhouse", func(cfg config.SinkConfig) (model.Sink, error) {
		return NewClickHouseWriter(cfg.ClickHouse)
	})
}

// ClickHouseWriter inserts one row per feature vector.
type ClickHouseWriter struct {
	conn  driver.Conn
	table string
}

// NewClickHouseWriter connects and makes sure the table exists.
func NewClickHouseWriter(cfg config.ClickHouseConfig) (*ClickHouseWriter, error) {
	conn, err := Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	table := TableName(cfg)
	if err := conn.Exec(context.Background(), fmt.Sprintf(createTableStatement, table)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create table: %w", err)
	}
	log.Println("Successfully connected to ClickHouse and ensured table exists.")

	return &ClickHouseWriter{conn: conn, table: table}, nil
}

// TableName returns the configured table or DefaultTable.
func TableName(cfg config.ClickHouseConfig) string {
	if cfg.Table == "" {
		return DefaultTable
	}
	return cfg.Table
}

// Connect opens and pings a ClickHouse connection.
func Connect(cfg config.ClickHouseConfig) (driver.Conn, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Debug: false,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, err
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}

func (w *ClickHouseWriter) Name() string { return "clickhouse" }

// Write inserts a batch of vectors.
func (w *ClickHouseWriter) Write(ctx context.Context, vectors []*model.FeatureVector) error {
	if len(vectors) == 0 {
		return nil
	}
	batch, err := w.conn.PrepareBatch(ctx, "INSERT INTO "+w.table)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	for _, v := range vectors {
		if err := batch.Append(rowValues(v)...); err != nil {
			return fmt.Errorf("failed to append vector to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	log.Printf("Wrote %d feature vectors to ClickHouse table '%s'", len(vectors), w.table)
	return nil
}

// rowValues lays out one vector in table column order.
func rowValues(v *model.FeatureVector) []any {
	duration, _ := v.Value("Flow Duration")
	fp, _ := v.Value("Tot Fwd Pkts")
	bp, _ := v.Value("Tot Bwd Pkts")
	fb, _ := v.Value("TotLen Fwd Pkts")
	bb, _ := v.Value("TotLen Bwd Pkts")
	return []any{
		v.FlowID,
		v.SchemaVersion,
		v.Forward.Addr.String(),
		v.Forward.Port,
		v.Backward.Addr.String(),
		v.Backward.Port,
		v.Protocol,
		v.Start,
		v.End,
		v.EndReason.String(),
		v.Partial,
		duration,
		uint64(fp + bp),
		uint64(fb + bb),
		v.Values,
	}
}

func (w *ClickHouseWriter) Close() error {
	return w.conn.Close()
}
