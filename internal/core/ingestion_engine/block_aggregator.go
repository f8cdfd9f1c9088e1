package ingestion_engine

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
)

const summaryPrefixLen = 500

// BuildTextBlocks groups ordered chunks into runs of chunksPerBlock. Block
// indexes start at startIndex and stay contiguous.
func BuildTextBlocks(documentID string, parseID *string, chunks []models.DocumentChunk, chunksPerBlock, startIndex int) []models.DocumentBlock {
	if chunksPerBlock <= 0 {
		chunksPerBlock = 5
	}
	now := time.Now().UTC()
	var out []models.DocumentBlock
	for start := 0; start < len(chunks); start += chunksPerBlock {
		end := min(start+chunksPerBlock, len(chunks))
		texts := make([]string, 0, end-start)
		for _, ch := range chunks[start:end] {
			texts = append(texts, ch.Text)
		}
		content := strings.Join(texts, "\n\n")
		out = append(out, models.DocumentBlock{
			ID:         uuid.NewString(),
			DocumentID: documentID,
			ParseID:    parseID,
			BlockIndex: startIndex + len(out),
			BlockType:  models.BlockTypeSection,
			Content:    content,
			Summary:    core.Prefix(content, summaryPrefixLen),
			CreatedAt:  now,
		})
	}
	return out
}

// CSVBlockAggregator turns every rowsPerBlock rows into one table block
// as rows stream past, so the file is never held in memory.
type CSVBlockAggregator struct {
	documentID   string
	rowsPerBlock int
	emit         func(models.DocumentBlock) error

	headers []string
	rows    []CSVRow
	next    int
}

// NewCSVBlockAggregator labels every block with headers.
func NewCSVBlockAggregator(documentID string, headers []string, rowsPerBlock int, emit func(models.DocumentBlock) error) *CSVBlockAggregator {
	if rowsPerBlock <= 0 {
		rowsPerBlock = 300
	}
	return &CSVBlockAggregator{documentID: documentID, headers: headers, rowsPerBlock: rowsPerBlock, emit: emit}
}

func (a *CSVBlockAggregator) Add(row CSVRow) error {
	a.rows = append(a.rows, row)
	if len(a.rows) >= a.rowsPerBlock {
		return a.flush()
	}
	return nil
}

// Close emits the final partial block.
func (a *CSVBlockAggregator) Close() error {
	if len(a.rows) == 0 {
		return nil
	}
	return a.flush()
}

// Count is the number of blocks emitted so far.
func (a *CSVBlockAggregator) Count() int { return a.next }

func (a *CSVBlockAggregator) flush() error {
	var sb strings.Builder
	sb.WriteString("Columns:\n")
	sb.WriteString(strings.Join(a.headers, ", "))
	sb.WriteString("\n\nRows:\n")
	for _, r := range a.rows {
		sb.WriteString(strings.Join(r.Values, " | "))
		sb.WriteString("\n")
	}
	content := sb.String()

	b := models.DocumentBlock{
		ID:         uuid.NewString(),
		DocumentID: a.documentID,
		BlockIndex: a.next,
		BlockType:  models.BlockTypeTable,
		Content:    content,
		Summary:    core.Prefix(content, summaryPrefixLen),
		CreatedAt:  time.Now().UTC(),
	}
	a.next++
	a.rows = a.rows[:0]
	return a.emit(b)
}
