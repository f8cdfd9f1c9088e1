package ingestion_engine

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/markdave123-py/insightai/internal/core"
)

const (
	csvChunkHeader    = "CSV Records (JSON):\n"
	truncatedRowKey   = "__truncated_row__"
	extraValuesKey    = "__extra__"
	truncationReserve = 50
)

// CSVRow is one record keyed by the header row. Field order follows the
// header so its JSON form is stable.
type CSVRow struct {
	Number  int
	Headers []string
	Values  []string
}

// MarshalJSON writes a compact object in header order. Missing trailing
// fields become null; values past the last header are kept as a list under
// extraValuesKey.
func (r CSVRow) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, h := range r.Headers {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(&buf, h); err != nil {
			return nil, err
		}
		buf.WriteByte(':')
		if i < len(r.Values) {
			if err := writeJSONString(&buf, r.Values[i]); err != nil {
				return nil, err
			}
		} else {
			buf.WriteString("null")
		}
	}
	if len(r.Values) > len(r.Headers) {
		if len(r.Headers) > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(`"` + extraValuesKey + `":[`)
		for i, v := range r.Values[len(r.Headers):] {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSONString(&buf, v); err != nil {
				return nil, err
			}
		}
		buf.WriteByte(']')
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
	return nil
}

// CSVRowReader streams rows from a CSV source without loading the file.
type CSVRowReader struct {
	r       *csv.Reader
	headers []string
	n       int
}

func NewCSVRowReader(src io.Reader) (*CSVRowReader, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = false

	headers, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &CSVRowReader{r: r}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: csv header: %v", core.ErrParseFailure, err)
	}
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], "\ufeff")
	}
	return &CSVRowReader{r: r, headers: headers}, nil
}

func (c *CSVRowReader) Headers() []string { return c.headers }

// Next returns io.EOF after the last row.
func (c *CSVRowReader) Next() (CSVRow, error) {
	if c.headers == nil {
		return CSVRow{}, io.EOF
	}
	for {
		rec, err := c.r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return CSVRow{}, io.EOF
			}
			return CSVRow{}, fmt.Errorf("%w: csv row %d: %v", core.ErrParseFailure, c.n+1, err)
		}
		if isBlankRecord(rec) {
			continue
		}
		c.n++
		return CSVRow{Number: c.n, Headers: c.headers, Values: rec}, nil
	}
}

func isBlankRecord(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// CSVChunk is one flushed buffer of serialized rows.
type CSVChunk struct {
	Text       string
	TokenCount int
	FirstRow   int
	LastRow    int
}

type csvLine struct {
	row    int
	text   string
	tokens int
}

// CSVStreamChunker packs serialized rows into token-bounded chunks. When a
// chunk is flushed the last overlapRows rows seed the next buffer.
type CSVStreamChunker struct {
	tok         core.Tokenizer
	maxTokens   int
	overlapRows int
	emit        func(CSVChunk) error

	buf    []csvLine
	tokSum int
	fresh  int
}

func NewCSVStreamChunker(tok core.Tokenizer, maxTokens, overlapRows int, emit func(CSVChunk) error) *CSVStreamChunker {
	return &CSVStreamChunker{tok: tok, maxTokens: maxTokens, overlapRows: overlapRows, emit: emit}
}

// Add serializes one row and flushes the buffer first if the row would not fit.
func (c *CSVStreamChunker) Add(row CSVRow) error {
	raw, err := row.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serialize csv row %d: %w", row.Number, err)
	}
	line := string(raw)
	cost := len(c.tok.Encode(line))

	if cost > c.maxTokens {
		line, cost, err = c.truncate(line)
		if err != nil {
			return err
		}
	}

	if len(c.buf) > 0 && c.tokSum+cost > c.maxTokens {
		if err := c.flush(); err != nil {
			return err
		}
		c.seedOverlap()
	}

	c.buf = append(c.buf, csvLine{row: row.Number, text: line, tokens: cost})
	c.tokSum += cost
	c.fresh++
	return nil
}

func (c *CSVStreamChunker) truncate(line string) (string, int, error) {
	keep := max(c.maxTokens-truncationReserve, 1)
	body, _, _ := fitTokens(c.tok, c.tok.Encode(line), keep)
	var buf bytes.Buffer
	buf.WriteString(`{"` + truncatedRowKey + `":`)
	if err := writeJSONString(&buf, body); err != nil {
		return "", 0, err
	}
	buf.WriteByte('}')
	out := buf.String()
	return out, len(c.tok.Encode(out)), nil
}

// Close flushes rows added since the last flush.
func (c *CSVStreamChunker) Close() error {
	if c.fresh == 0 {
		return nil
	}
	return c.flush()
}

func (c *CSVStreamChunker) flush() error {
	lines := make([]string, len(c.buf))
	for i, l := range c.buf {
		lines[i] = l.text
	}
	text := csvChunkHeader + strings.Join(lines, "\n")
	ch := CSVChunk{
		Text:       text,
		TokenCount: len(c.tok.Encode(text)),
		FirstRow:   c.buf[0].row,
		LastRow:    c.buf[len(c.buf)-1].row,
	}
	c.fresh = 0
	return c.emit(ch)
}

// seedOverlap keeps the tail rows and recomputes their token cost.
func (c *CSVStreamChunker) seedOverlap() {
	if c.overlapRows <= 0 {
		c.buf = c.buf[:0]
		c.tokSum = 0
		return
	}
	from := max(len(c.buf)-c.overlapRows, 0)
	keep := append([]csvLine(nil), c.buf[from:]...)
	c.tokSum = 0
	for i := range keep {
		keep[i].tokens = len(c.tok.Encode(keep[i].text))
		c.tokSum += keep[i].tokens
	}
	c.buf = keep
}

// ChunkCSV drains src through a CSVStreamChunker. onRow, when set, sees
// every row after the chunker has taken it.
func ChunkCSV(ctx context.Context, src *CSVRowReader, tok core.Tokenizer, maxTokens, overlapRows int, emit func(CSVChunk) error, onRow func(CSVRow) error) error {
	ch := NewCSVStreamChunker(tok, maxTokens, overlapRows, emit)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := src.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := ch.Add(row); err != nil {
			return err
		}
		if onRow != nil {
			if err := onRow(row); err != nil {
				return err
			}
		}
	}
	return ch.Close()
}
