package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/fxamacker/cbor/v2"

	"epipanel/internal/dataset"
)

// FormatVersion identifies the payload artifact format. Bump when the
// columnar document layout changes.
const FormatVersion = "1"

// columnarDoc is the on-disk payload layout: one value array per column,
// all arrays the same length. CBOR decoding yields data only; there is no
// object or code deserialization path.
type columnarDoc struct {
	Version string   `cbor:"version"`
	Columns []string `cbor:"columns"`
	Values  [][]any  `cbor:"values"`
}

// encodeTable serializes a table to the compressed columnar payload format.
func encodeTable(t *dataset.Table) ([]byte, error) {
	doc := columnarDoc{
		Version: FormatVersion,
		Columns: t.Columns,
		Values:  make([][]any, len(t.Columns)),
	}
	for i, col := range t.Columns {
		doc.Values[i] = t.Column(col)
	}

	raw, err := cbor.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode columnar document: %w", err)
	}

	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("compress payload: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flush compressed payload: %w", err)
	}
	return buf.Bytes(), nil
}

// decodeTable deserializes a compressed columnar payload back into a table.
func decodeTable(payload []byte) (*dataset.Table, error) {
	raw, err := io.ReadAll(brotli.NewReader(bytes.NewReader(payload)))
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	var doc columnarDoc
	if err := cbor.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode columnar document: %w", err)
	}
	if doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported payload format version %q", doc.Version)
	}
	if len(doc.Values) != len(doc.Columns) {
		return nil, fmt.Errorf("column count mismatch: %d names, %d value arrays", len(doc.Columns), len(doc.Values))
	}

	rows := 0
	if len(doc.Values) > 0 {
		rows = len(doc.Values[0])
	}
	for i, vals := range doc.Values {
		if len(vals) != rows {
			return nil, fmt.Errorf("ragged column %q: %d values, expected %d", doc.Columns[i], len(vals), rows)
		}
	}

	t := dataset.NewTable(doc.Columns...)
	for r := 0; r < rows; r++ {
		row := make(map[string]any, len(doc.Columns))
		for c, col := range doc.Columns {
			if v := doc.Values[c][r]; v != nil {
				row[col] = v
			}
		}
		t.Append(row)
	}
	return t, nil
}
