package ingestion_engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/core/tokenizer"
	"github.com/markdave123-py/insightai/internal/models"
)

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(parts, " ")
}

func TestTextChunker_Windows(t *testing.T) {
	tok := tokenizer.NewWords()
	c := NewTextChunker(tok)

	t.Run("non-overlapping windows", func(t *testing.T) {
		chunks, next := c.Chunk("doc", words(25, "w"), 10, 0, 0, ChunkMeta{})
		require.Len(t, chunks, 3)
		assert.Equal(t, 3, next)
		assert.Equal(t, []int{10, 10, 5}, []int{chunks[0].TokenCount, chunks[1].TokenCount, chunks[2].TokenCount})
		assert.True(t, strings.HasPrefix(chunks[1].Text, "w10 "))

		var rebuilt []string
		for i, ch := range chunks {
			assert.Equal(t, i, ch.ChunkIndex)
			rebuilt = append(rebuilt, ch.Text)
		}
		assert.Equal(t, words(25, "w"), strings.Join(rebuilt, " "))
	})

	t.Run("start index continues numbering", func(t *testing.T) {
		chunks, next := c.Chunk("doc", words(5, "x"), 10, 0, 7, ChunkMeta{})
		require.Len(t, chunks, 1)
		assert.Equal(t, 7, chunks[0].ChunkIndex)
		assert.Equal(t, 8, next)
	})

	t.Run("overlap slides by max minus overlap", func(t *testing.T) {
		chunks, _ := c.Chunk("doc", words(20, "o"), 10, 4, 0, ChunkMeta{})
		require.Len(t, chunks, 3)
		assert.True(t, strings.HasPrefix(chunks[1].Text, "o6 "))
		assert.True(t, strings.HasPrefix(chunks[2].Text, "o12 "))
		for _, ch := range chunks {
			assert.LessOrEqual(t, ch.TokenCount, 10)
		}
	})

	t.Run("blank text", func(t *testing.T) {
		chunks, next := c.Chunk("doc", "  \n\t ", 10, 0, 3, ChunkMeta{})
		assert.Empty(t, chunks)
		assert.Equal(t, 3, next)
	})

	t.Run("encode of decode is stable", func(t *testing.T) {
		text := words(12, "s")
		chunks, _ := c.Chunk("doc", text, 5, 0, 0, ChunkMeta{})
		for _, ch := range chunks {
			ids := tok.Encode(ch.Text)
			assert.Equal(t, ids, tok.Encode(tok.Decode(ids)))
		}
	})
}

func csvFixture(n int) string {
	var sb strings.Builder
	sb.WriteString("id,value\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "r%04d,v%d\n", i, i)
	}
	return sb.String()
}

func rowIDs(t *testing.T, chunkText string) []string {
	t.Helper()
	require.True(t, strings.HasPrefix(chunkText, csvChunkHeader))
	var ids []string
	for _, line := range strings.Split(strings.TrimPrefix(chunkText, csvChunkHeader), "\n") {
		var obj map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &obj))
		ids = append(ids, obj["id"].(string))
	}
	return ids
}

func TestCSVStreamChunker_Overlap(t *testing.T) {
	rows, err := NewCSVRowReader(strings.NewReader(csvFixture(1000)))
	require.NoError(t, err)

	var chunks []CSVChunk
	err = ChunkCSV(context.Background(), rows, tokenizer.NewWords(), 50, 5, func(c CSVChunk) error {
		chunks = append(chunks, c)
		return nil
	}, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	seen := map[string]bool{}
	for i := range chunks {
		ids := rowIDs(t, chunks[i].Text)
		assert.LessOrEqual(t, len(ids), 50)
		for _, id := range ids {
			seen[id] = true
		}
		if i == 0 {
			continue
		}
		prev := rowIDs(t, chunks[i-1].Text)
		assert.Equal(t, prev[len(prev)-5:], ids[:5], "chunk %d must start with the tail of chunk %d", i, i-1)
	}
	assert.Len(t, seen, 1000)
	assert.Equal(t, 1000, chunks[len(chunks)-1].LastRow)
}

func TestCSVStreamChunker_TruncatesOversizedRow(t *testing.T) {
	src := "id,text\nr1," + words(200, "t") + "\nr2,short\n"
	rows, err := NewCSVRowReader(strings.NewReader(src))
	require.NoError(t, err)

	var chunks []CSVChunk
	require.NoError(t, ChunkCSV(context.Background(), rows, tokenizer.NewWords(), 60, 0, func(c CSVChunk) error {
		chunks = append(chunks, c)
		return nil
	}, nil))
	require.NotEmpty(t, chunks)

	first := strings.Split(strings.TrimPrefix(chunks[0].Text, csvChunkHeader), "\n")[0]
	var obj map[string]string
	require.NoError(t, json.Unmarshal([]byte(first), &obj))
	assert.Contains(t, obj, truncatedRowKey)
	assert.LessOrEqual(t, len(strings.Fields(obj[truncatedRowKey])), 10)
}

func TestCSVRow_MarshalJSONKeepsHeaderOrder(t *testing.T) {
	row := CSVRow{Headers: []string{"z", "a", "m"}, Values: []string{"1", "<2>"}}
	raw, err := row.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"z":"1","a":"<2>","m":null}`, string(raw))
}

func TestCSVRow_MarshalJSONKeepsExtraValues(t *testing.T) {
	rows, err := NewCSVRowReader(strings.NewReader("id,value\nr1,v1,spill,\"more, data\"\nr2\n"))
	require.NoError(t, err)

	ragged, err := rows.Next()
	require.NoError(t, err)
	raw, err := ragged.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r1","value":"v1","__extra__":["spill","more, data"]}`, string(raw))

	short, err := rows.Next()
	require.NoError(t, err)
	raw, err = short.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"id":"r2","value":null}`, string(raw))
}

func mixedScriptText(n int) string {
	parts := []string{"Umsatz", "größer", "—", "株式会社", "Gewinn", "🚀", "Ärger", "über", "東京", "💶", "Ölpreis"}
	var sb strings.Builder
	for i := 0; i < n; i++ {
		sb.WriteString(parts[i%len(parts)])
		sb.WriteByte(' ')
	}
	return sb.String()
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func TestTextChunker_MultiByteBoundaries(t *testing.T) {
	tok, err := tokenizer.New("o200k_base")
	require.NoError(t, err)
	c := NewTextChunker(tok)
	text := mixedScriptText(200)

	for _, overlap := range []int{0, 2} {
		t.Run(fmt.Sprintf("overlap %d", overlap), func(t *testing.T) {
			chunks, _ := c.Chunk("doc", text, 7, overlap, 0, ChunkMeta{})
			require.NotEmpty(t, chunks)
			var rebuilt strings.Builder
			for i, ch := range chunks {
				assert.True(t, utf8.ValidString(ch.Text), "chunk %d is not valid UTF-8: %q", i, ch.Text)
				assert.Equal(t, len(tok.Encode(ch.Text)), ch.TokenCount, "chunk %d", i)
				assert.LessOrEqual(t, ch.TokenCount, 7, "chunk %d", i)
				rebuilt.WriteString(ch.Text)
			}
			if overlap == 0 {
				assert.Equal(t, stripSpace(text), stripSpace(rebuilt.String()))
			}
		})
	}
}

func TestCSVStreamChunker_TruncatesOnCharacterBoundary(t *testing.T) {
	tok, err := tokenizer.New("o200k_base")
	require.NoError(t, err)
	src := "id,text\nr1," + strings.ReplaceAll(mixedScriptText(150), ",", "") + "\n"
	rows, err := NewCSVRowReader(strings.NewReader(src))
	require.NoError(t, err)

	var chunks []CSVChunk
	require.NoError(t, ChunkCSV(context.Background(), rows, tok, 60, 0, func(c CSVChunk) error {
		chunks = append(chunks, c)
		return nil
	}, nil))
	require.Len(t, chunks, 1)
	assert.True(t, utf8.ValidString(chunks[0].Text))
	assert.Equal(t, len(tok.Encode(chunks[0].Text)), chunks[0].TokenCount)

	var obj map[string]string
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(chunks[0].Text, csvChunkHeader)), &obj))
	kept := obj[truncatedRowKey]
	require.NotEmpty(t, kept)
	assert.NotContains(t, kept, "\uFFFD")
	assert.LessOrEqual(t, len(tok.Encode(kept)), 10)
}

func TestCSVRowReader_Empty(t *testing.T) {
	rows, err := NewCSVRowReader(strings.NewReader(""))
	require.NoError(t, err)
	_, err = rows.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestBuildTextBlocks(t *testing.T) {
	var chunks []models.DocumentChunk
	for i := 0; i < 12; i++ {
		chunks = append(chunks, models.DocumentChunk{ChunkIndex: i, Text: fmt.Sprintf("chunk-%d", i)})
	}
	parseID := "p1"
	blocks := BuildTextBlocks("doc", &parseID, chunks, 5, 0)
	require.Len(t, blocks, 3)
	for i, b := range blocks {
		assert.Equal(t, i, b.BlockIndex)
		assert.Equal(t, models.BlockTypeSection, b.BlockType)
		assert.Equal(t, "p1", *b.ParseID)
	}
	assert.Equal(t, "chunk-0\n\nchunk-1\n\nchunk-2\n\nchunk-3\n\nchunk-4", blocks[0].Content)
	assert.Equal(t, "chunk-10\n\nchunk-11", blocks[2].Content)
}

func TestBuildTextBlocks_SummaryPrefix(t *testing.T) {
	long := strings.Repeat("ä", 700)
	blocks := BuildTextBlocks("doc", nil, []models.DocumentChunk{{Text: long}}, 5, 0)
	require.Len(t, blocks, 1)
	assert.Equal(t, 500, len([]rune(blocks[0].Summary)))
	assert.Nil(t, blocks[0].ParseID)
}

func TestCSVBlockAggregator(t *testing.T) {
	var blocks []models.DocumentBlock
	headers := []string{"name", "amount"}
	agg := NewCSVBlockAggregator("doc", headers, 2, func(b models.DocumentBlock) error {
		blocks = append(blocks, b)
		return nil
	})
	for i := 0; i < 5; i++ {
		require.NoError(t, agg.Add(CSVRow{Number: i + 1, Headers: headers, Values: []string{fmt.Sprintf("n%d", i), "10"}}))
	}
	require.NoError(t, agg.Close())

	require.Len(t, blocks, 3)
	assert.Equal(t, "Columns:\nname, amount\n\nRows:\nn0 | 10\nn1 | 10\n", blocks[0].Content)
	assert.Equal(t, models.BlockTypeTable, blocks[2].BlockType)
	assert.Equal(t, 2, blocks[2].BlockIndex)
	assert.Equal(t, 3, agg.Count())
}

func TestSplitStructure(t *testing.T) {
	doc := &core.StructuredDocument{Pages: []core.PDFPage{
		{Number: 1, Text: "Preamble text\n# Annual Report\nIntro paragraph\n## Revenue\nRevenue grew."},
		{Number: 2, Text: "More revenue detail.\n## Costs\nCosts fell.\n# Outlook\nPositive."},
	}}

	sections := SplitStructure(doc)
	require.Len(t, sections, 5)

	assert.Empty(t, sections[0].Headings)
	assert.Equal(t, "Preamble text", sections[0].Text)

	assert.Equal(t, "Annual Report > Revenue", sections[2].SectionTitle())
	assert.Equal(t, 1, sections[2].PageStart)
	assert.Equal(t, 2, sections[2].PageEnd)
	assert.Equal(t, 2, sections[2].Level)
	assert.Equal(t, "Annual Report\nRevenue\nRevenue grew.\nMore revenue detail.", sections[2].Contextualize())

	assert.Equal(t, "Annual Report > Costs", sections[3].SectionTitle())
	assert.Equal(t, "Outlook", sections[4].SectionTitle())
}

func TestChunkStructured_GlobalIndex(t *testing.T) {
	c := NewTextChunker(tokenizer.NewWords())
	sections := []StructuralChunk{
		{Headings: []string{"A"}, Level: 1, Text: words(15, "a"), PageStart: 1, PageEnd: 1},
		{Headings: []string{"A", "B"}, Level: 2, Text: words(3, "b"), PageStart: 2, PageEnd: 3},
	}
	parseID := "p"
	chunks, next := c.ChunkStructured("doc", &parseID, sections, 10, 3, 0)

	require.Len(t, chunks, 3)
	assert.Equal(t, 3, next)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.LessOrEqual(t, ch.TokenCount, 10)
		assert.Equal(t, "p", *ch.ParseID)
	}
	assert.Equal(t, "A > B", *chunks[2].SectionTitle)
	assert.Equal(t, 2, *chunks[2].PageStart)
	assert.Equal(t, 3, *chunks[2].PageEnd)
}
