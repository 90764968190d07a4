package stream

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/shopspring/decimal"

	"github.com/halcyonex/tradecore/internal/model"
)

// dumpFile is the on-disk batch layout: column arrays, not rows, so the
// offline analytics side can load a single field without decoding the
// rest. Values are decimal strings to keep fixed-point exactness.
type dumpFile struct {
	Schema     model.Schema `json:"schema"`
	Symbols    []string     `json:"symbols"`
	Timestamps []int64      `json:"timestamps"`
	Columns    [][]string   `json:"columns"`
}

const dumpTimeFormat = "20060102T150405.000"

// writeDump serializes one batch to a timestamped gzip file and returns
// its path.
func writeDump(dir string, schema model.Schema, batch []model.Observation) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create dump dir %s: %w", dir, err)
	}

	df := dumpFile{
		Schema:     schema,
		Symbols:    make([]string, len(batch)),
		Timestamps: make([]int64, len(batch)),
		Columns:    make([][]string, len(schema.Fields)),
	}
	for c := range df.Columns {
		df.Columns[c] = make([]string, len(batch))
	}
	for i, obs := range batch {
		if len(obs.Values) != len(schema.Fields) {
			return "", fmt.Errorf("observation for %s has %d values, schema %s has %d fields",
				obs.Symbol, len(obs.Values), schema.Kind, len(schema.Fields))
		}
		df.Symbols[i] = obs.Symbol
		df.Timestamps[i] = obs.Timestamp
		for c, v := range obs.Values {
			df.Columns[c][i] = v.String()
		}
	}

	name := fmt.Sprintf("%s-%s.json.gz", schema.Kind, time.Now().UTC().Format(dumpTimeFormat))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create dump file %s: %w", path, err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	if err := json.NewEncoder(gz).Encode(&df); err != nil {
		gz.Close()
		return "", fmt.Errorf("failed to encode dump %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("failed to finish dump %s: %w", path, err)
	}
	return path, nil
}

// ReadDump loads a batch file back into observations. The running process
// never calls this; it exists for tests and offline tooling.
func ReadDump(path string) (model.Schema, []model.Observation, error) {
	f, err := os.Open(path)
	if err != nil {
		return model.Schema{}, nil, fmt.Errorf("failed to open dump %s: %w", path, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return model.Schema{}, nil, fmt.Errorf("failed to read dump %s: %w", path, err)
	}
	defer gz.Close()

	var df dumpFile
	if err := json.NewDecoder(gz).Decode(&df); err != nil {
		return model.Schema{}, nil, fmt.Errorf("failed to decode dump %s: %w", path, err)
	}

	batch := make([]model.Observation, len(df.Symbols))
	for i := range df.Symbols {
		values := make([]decimal.Decimal, len(df.Columns))
		for c := range df.Columns {
			v, err := decimal.NewFromString(df.Columns[c][i])
			if err != nil {
				return model.Schema{}, nil, fmt.Errorf("bad decimal in dump %s: %w", path, err)
			}
			values[c] = v
		}
		batch[i] = model.Observation{Symbol: df.Symbols[i], Timestamp: df.Timestamps[i], Values: values}
	}
	return df.Schema, batch, nil
}
