package sink

import (
	"bytes"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/golang/snappy"
	"github.com/spaolacci/murmur3"

	"github.com/eventmill/eventmill/pkg/types"
)

// Format is the artifact serialization format.
type Format string

// Compression is the artifact compression scheme.
type Compression string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"

	CompressionNone   Compression = "none"
	CompressionSnappy Compression = "snappy"
)

// artifactKeyHourLayout buckets artifact keys by wall-clock hour, so a rerun
// within the same hour overwrites the same key instead of duplicating it.
const artifactKeyHourLayout = "2006-01-02-15"

// Artifact is one serialized per-tenant output object.
type Artifact struct {
	Key         string
	Body        []byte
	ContentType string
}

// ContentHash returns the murmur3-128 hex digest of the artifact body,
// stored in object metadata for cheap change detection.
func (a *Artifact) ContentHash() string {
	h1, h2 := murmur3.Sum128(a.Body)
	var sum [16]byte
	for i := 0; i < 8; i++ {
		sum[i] = byte(h1 >> (56 - 8*i))
		sum[8+i] = byte(h2 >> (56 - 8*i))
	}
	return hex.EncodeToString(sum[:])
}

// Serializer converts an ordered record group into an artifact.
type Serializer struct {
	format      Format
	compression Compression
}

// NewSerializer creates a serializer for the given format and compression.
func NewSerializer(format Format, compression Compression) *Serializer {
	if compression == "" {
		compression = CompressionNone
	}
	return &Serializer{format: format, compression: compression}
}

// Serialize encodes the record group and derives the artifact key from the
// run's wall-clock hour in UTC.
func (s *Serializer) Serialize(records []types.Record, runTime time.Time) (*Artifact, error) {
	var (
		body        []byte
		contentType string
		err         error
	)

	switch s.format {
	case FormatCSV:
		body, err = encodeCSV(records)
		contentType = "text/csv"
	default:
		body, err = json.MarshalIndent(records, "", "  ")
		contentType = "application/json"
	}
	if err != nil {
		return nil, fmt.Errorf("serialize %s artifact: %w", s.format, err)
	}

	key := fmt.Sprintf("events-%s.%s", runTime.UTC().Format(artifactKeyHourLayout), s.format)

	if s.compression == CompressionSnappy {
		body = snappy.Encode(nil, body)
		key += ".snappy"
		contentType = "application/octet-stream"
	}

	return &Artifact{Key: key, Body: body, ContentType: contentType}, nil
}

// encodeCSV writes the group as rows under a header that is the sorted union
// of every key seen across the group's records.
func encodeCSV(records []types.Record) ([]byte, error) {
	if len(records) == 0 {
		return nil, nil
	}

	keySet := make(map[string]struct{})
	for _, r := range records {
		for _, k := range r.Keys() {
			keySet[k] = struct{}{}
		}
	}
	header := make([]string, 0, len(keySet))
	for k := range keySet {
		header = append(header, k)
	}
	sort.Strings(header)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, r := range records {
		row := make([]string, len(header))
		for i, k := range header {
			v, ok := r.Get(k)
			if !ok || v == nil {
				continue
			}
			cell, err := csvCell(v)
			if err != nil {
				return nil, err
			}
			row[i] = cell
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// csvCell flattens one attribute value into a cell. List- and map-valued
// attributes are JSON-encoded so they survive the row-oriented format.
func csvCell(v interface{}) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		encoded, err := json.Marshal(t)
		if err != nil {
			return "", fmt.Errorf("encode csv cell: %w", err)
		}
		return string(encoded), nil
	}
}
