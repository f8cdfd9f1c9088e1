package structuring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

const (
	summaryMaxChars    = 500
	promptContentChars = 6000
	fallbackSection    = "other"
)

const systemPrompt = `You classify blocks of a business document.
For every block you receive, return one entry in a JSON object of the form:
{"blocks": [{"block_id": "<id exactly as given>", "section_type": "header | subsection | paragraph | table | figure | other", "title": "short title or null", "summary": "at most 500 characters"}]}
Return an entry for every block id. Use only the block text. Answer with JSON only.`

type Config struct {
	Model       string
	BatchSize   int
	Concurrency int
}

// BlockStructurer labels document blocks through the LLM in small batches.
// At most Concurrency batches are in flight at once.
type BlockStructurer struct {
	db       core.DbClient
	llm      core.JSONGenerator
	cfg      Config
	validate *validator.Validate
	log      *logger.Logger
}

type blockEntry struct {
	BlockID     string  `json:"block_id" validate:"required"`
	SectionType string  `json:"section_type" validate:"required,oneof=header subsection paragraph table figure other"`
	Title       *string `json:"title"`
	Summary     string  `json:"summary"`
}

type batchResponse struct {
	Blocks []json.RawMessage `json:"blocks"`
}

func NewBlockStructurer(db core.DbClient, llm core.JSONGenerator, cfg Config, log *logger.Logger) *BlockStructurer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 3
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if log == nil {
		log = logger.Nop()
	}
	return &BlockStructurer{
		db:       db,
		llm:      llm,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With("service", "BlockStructurer"),
	}
}

// StructureBlocks classifies every block matching filter and writes all
// results back in one commit. Batch failures degrade to fallback values;
// only store errors are returned.
func (s *BlockStructurer) StructureBlocks(ctx context.Context, documentID string, filter core.ParseFilter) error {
	blocks, err := s.db.ListBlocks(ctx, documentID, filter, 0)
	if err != nil {
		return fmt.Errorf("list blocks: %w", err)
	}
	if len(blocks) == 0 {
		return nil
	}

	var (
		mu      sync.Mutex
		results = make(map[string]models.BlockStructure, len(blocks))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for start := 0; start < len(blocks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(blocks))
		batch := blocks[start:end]
		g.Go(func() error {
			out := s.structureBatch(gctx, documentID, batch)
			mu.Lock()
			for id, st := range out {
				results[id] = st
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	ordered := make([]models.BlockStructure, 0, len(blocks))
	for _, b := range blocks {
		st, ok := results[b.ID]
		if !ok {
			st = Fallback(b)
		}
		ordered = append(ordered, st)
	}

	if err := s.db.ApplyBlockStructures(ctx, ordered); err != nil {
		return fmt.Errorf("apply block structures: %w", err)
	}
	s.log.Info("blocks structured", "document_id", documentID, "blocks", len(ordered))
	return nil
}

// structureBatch always returns an entry for every block in batch.
func (s *BlockStructurer) structureBatch(ctx context.Context, documentID string, batch []models.DocumentBlock) map[string]models.BlockStructure {
	out := make(map[string]models.BlockStructure, len(batch))
	byID := make(map[string]models.DocumentBlock, len(batch))
	for _, b := range batch {
		byID[b.ID] = b
	}

	resp, err := s.llm.GenerateJSON(ctx, core.JSONRequest{
		Model:        s.cfg.Model,
		SystemPrompt: systemPrompt,
		UserPrompt:   buildPrompt(batch),
		Temperature:  0,
	})
	if err != nil {
		s.log.Warn("structuring batch failed, using fallback", "document_id", documentID, "blocks", len(batch), "error", err)
	} else {
		for _, e := range s.decode(resp) {
			b, ok := byID[e.BlockID]
			if !ok {
				continue
			}
			out[e.BlockID] = s.normalize(b, e)
		}
	}

	for _, b := range batch {
		if _, ok := out[b.ID]; !ok {
			out[b.ID] = Fallback(b)
		}
	}
	return out
}

// decode keeps only entries that pass validation; the rest fall back.
func (s *BlockStructurer) decode(resp map[string]any) []blockEntry {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil
	}
	var br batchResponse
	if err := json.Unmarshal(raw, &br); err != nil {
		s.log.Warn("structuring response has no block list", "error", err)
		return nil
	}

	entries := make([]blockEntry, 0, len(br.Blocks))
	for _, item := range br.Blocks {
		var e blockEntry
		if err := json.Unmarshal(item, &e); err != nil {
			continue
		}
		e.SectionType = strings.ToLower(strings.TrimSpace(e.SectionType))
		if err := s.validate.Struct(e); err != nil {
			s.log.Debug("discarding invalid block entry", "block_id", e.BlockID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries
}

func (s *BlockStructurer) normalize(b models.DocumentBlock, e blockEntry) models.BlockStructure {
	st := models.BlockStructure{
		BlockID:     b.ID,
		SectionType: e.SectionType,
		Summary:     core.Prefix(strings.TrimSpace(e.Summary), summaryMaxChars),
	}
	if e.Title != nil {
		if t := strings.TrimSpace(*e.Title); t != "" && !strings.EqualFold(t, "null") {
			st.Title = &t
		}
	}
	if st.Summary == "" {
		st.Summary = core.Prefix(b.Content, summaryMaxChars)
	}
	return st
}

// Fallback is the deterministic classification for a block the LLM did
// not cover.
func Fallback(b models.DocumentBlock) models.BlockStructure {
	return models.BlockStructure{
		BlockID:     b.ID,
		SectionType: fallbackSection,
		Title:       nil,
		Summary:     core.Prefix(b.Content, summaryMaxChars),
	}
}

func buildPrompt(batch []models.DocumentBlock) string {
	var sb strings.Builder
	sb.WriteString("Classify the following blocks.\n\n")
	for _, b := range batch {
		fmt.Fprintf(&sb, "[BLOCK %s]\n%s\n[/BLOCK %s]\n\n", b.ID, core.Prefix(b.Content, promptContentChars), b.ID)
	}
	return sb.String()
}
