package sink

import (
	"FlowSpectra/internal/config"
	"FlowSpectra/internal/model"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

func init() {
	Register("csv", func(cfg config.SinkConfig) (model.Sink, error) {
		return NewCSVWriter(cfg.CSV.Path)
	})
}

// metaColumns precede the feature columns in every row.
var metaColumns = []string{
	"Flow ID", "Src IP", "Src Port", "Dst IP", "Protocol Name",
	"Start", "End", "End Reason", "Partial",
}

// Summary is written next to the csv file when the writer is closed.
type Summary struct {
	Path          string         `json:"path"`
	SchemaVersion uint16         `json:"schema_version"`
	TotalFlows    int            `json:"total_flows"`
	PartialFlows  int            `json:"partial_flows"`
	TotalPackets  uint64         `json:"total_packets"`
	TotalBytes    uint64         `json:"total_bytes"`
	EndReasons    map[string]int `json:"end_reasons"`
	Timestamp     string         `json:"timestamp"`
}

// CSVWriter appends feature vectors to a csv file with a header row.
type CSVWriter struct {
	path    string
	file    *os.File
	w       *csv.Writer
	mu      sync.Mutex
	header  bool
	summary Summary
}

// NewCSVWriter creates the file and its parent directory.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: csv sink needs a path", model.ErrInvalidConfig)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create csv directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create csv file '%s': %w", path, err)
	}
	return &CSVWriter{
		path:    path,
		file:    file,
		w:       csv.NewWriter(file),
		summary: Summary{Path: path, EndReasons: make(map[string]int)},
	}, nil
}

func (c *CSVWriter) Name() string { return "csv" }

// Write appends one row per vector. The header is taken from the first vector.
func (c *CSVWriter) Write(_ context.Context, batch []*model.FeatureVector) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, v := range batch {
		if !c.header {
			header := append(append([]string{}, metaColumns...), v.Names...)
			if err := c.w.Write(header); err != nil {
				return fmt.Errorf("failed to write csv header: %w", err)
			}
			c.header = true
			c.summary.SchemaVersion = v.SchemaVersion
		}
		if err := c.w.Write(row(v)); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
		c.account(v)
	}
	c.w.Flush()
	return c.w.Error()
}

func row(v *model.FeatureVector) []string {
	r := make([]string, 0, len(metaColumns)+len(v.Values))
	r = append(r,
		v.FlowID.String(),
		v.Forward.Addr.String(),
		strconv.Itoa(int(v.Forward.Port)),
		v.Backward.Addr.String(),
		protocolName(v.Protocol),
		v.Start.UTC().Format(time.RFC3339Nano),
		v.End.UTC().Format(time.RFC3339Nano),
		v.EndReason.String(),
		strconv.FormatBool(v.Partial),
	)
	for _, x := range v.Values {
		r = append(r, strconv.FormatFloat(x, 'g', -1, 64))
	}
	return r
}

func protocolName(p uint8) string {
	switch p {
	case model.IPProtoTCP:
		return model.ProtocolTCP.String()
	case model.IPProtoUDP:
		return model.ProtocolUDP.String()
	default:
		return model.ProtocolOther.String()
	}
}

func (c *CSVWriter) account(v *model.FeatureVector) {
	c.summary.TotalFlows++
	if v.Partial {
		c.summary.PartialFlows++
	}
	c.summary.EndReasons[v.EndReason.String()]++
	fp, _ := v.Value("Tot Fwd Pkts")
	bp, _ := v.Value("Tot Bwd Pkts")
	fb, _ := v.Value("TotLen Fwd Pkts")
	bb, _ := v.Value("TotLen Bwd Pkts")
	c.summary.TotalPackets += uint64(fp + bp)
	c.summary.TotalBytes += uint64(fb + bb)
}

// Close flushes the csv file and writes summary.json beside it.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.w.Flush()
	if err := c.w.Error(); err != nil {
		c.file.Close()
		return fmt.Errorf("failed to flush csv file: %w", err)
	}
	if err := c.file.Close(); err != nil {
		return fmt.Errorf("failed to close csv file: %w", err)
	}

	c.summary.Timestamp = time.Now().UTC().Format(time.RFC3339)
	summaryFilePath := filepath.Join(filepath.Dir(c.path), "summary.json")
	summaryFile, err := os.Create(summaryFilePath)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer summaryFile.Close()

	jsonEncoder := json.NewEncoder(summaryFile)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(c.summary); err != nil {
		return fmt.Errorf("failed to encode summary to json: %w", err)
	}
	return nil
}
