package reporting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markdave123-py/insightai/internal/core"
	"github.com/markdave123-py/insightai/internal/models"
	"github.com/markdave123-py/insightai/internal/platform/logger"
)

const tracerName = "github.com/markdave123-py/insightai/reporting"

// Section is one fixed report section and the instruction used both as
// retrieval query and drafting prompt.
type Section struct {
	Heading     string
	Instruction string
}

const keyFiguresHeading = "Key Figures"

// Sections is the fixed drafting order.
var Sections = []Section{
	{"Executive Summary", "High-level overview of the document and its purpose."},
	{"Key Findings", "Most important insights, takeaways, patterns or decisions."},
	{keyFiguresHeading, "Extract explicit numerical values, totals, KPIs stated in the document."},
	{"Risks & Issues", "Risks, inconsistencies, missing data, warnings, concerns."},
	{"Conclusion", "Concluding statement based strictly on the document."},
}

type Config struct {
	Model          string
	Language       string
	Temperature    float32
	TopK           int
	FallbackBlocks int
	EvidenceChars  int
	MaxKeyFigures  int
}

func DefaultConfig() Config {
	return Config{
		Model:          "gpt-4o-mini",
		Language:       "de",
		Temperature:    0.2,
		TopK:           8,
		FallbackBlocks: 12,
		EvidenceChars:  14000,
		MaxKeyFigures:  12,
	}
}

// Generator drafts a report section by section from retrieved evidence
// and persists it.
type Generator struct {
	db       core.DbClient
	vectors  core.VectorStore
	llm      core.JSONGenerator
	cfg      Config
	validate *validator.Validate
	log      *logger.Logger
}

func NewGenerator(db core.DbClient, vectors core.VectorStore, llm core.JSONGenerator, cfg Config, log *logger.Logger) *Generator {
	def := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.TopK <= 0 {
		cfg.TopK = def.TopK
	}
	if cfg.FallbackBlocks <= 0 {
		cfg.FallbackBlocks = def.FallbackBlocks
	}
	if cfg.EvidenceChars <= 0 {
		cfg.EvidenceChars = def.EvidenceChars
	}
	if cfg.MaxKeyFigures <= 0 {
		cfg.MaxKeyFigures = def.MaxKeyFigures
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Generator{
		db:       db,
		vectors:  vectors,
		llm:      llm,
		cfg:      cfg,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		log:      log.With("service", "ReportGenerator"),
	}
}

// GenerateAndStore drafts a new report for doc and saves it as the
// document's latest report.
func (g *Generator) GenerateAndStore(ctx context.Context, doc *models.Document) (*models.Report, error) {
	content, err := g.Generate(ctx, doc)
	if err != nil {
		return nil, err
	}
	report := &models.Report{
		ID:         uuid.NewString(),
		DocumentID: doc.ID,
		Content:    *content,
		CreatedAt:  time.Now().UTC(),
	}
	if err := g.db.CreateReport(ctx, report); err != nil {
		return nil, fmt.Errorf("store report: %w", err)
	}
	return report, nil
}

// Generate drafts every section in order, then the title, summary and
// conclusion. Malformed LLM output degrades to defaults; provider
// failures are returned.
func (g *Generator) Generate(ctx context.Context, doc *models.Document) (*models.ReportContent, error) {
	lang := doc.Language
	if strings.TrimSpace(lang) == "" {
		lang = g.cfg.Language
	}
	rule := LanguageInstruction(lang)
	log := g.log.With("document_id", doc.ID, "language", lang)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "report.generate",
		trace.WithAttributes(
			attribute.String("document_id", doc.ID),
			attribute.String("language", lang),
			attribute.Int("sections_total", len(Sections)),
		))
	defer span.End()

	out := &models.ReportContent{
		Sections:   make([]models.ReportSection, 0, len(Sections)),
		KeyFigures: []models.KeyFigure{},
	}
	for _, sec := range Sections {
		drafted, figures, err := g.draftSection(ctx, doc.ID, sec, rule)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "section failed")
			return nil, fmt.Errorf("report section %q: %w", sec.Heading, err)
		}
		if sec.Heading == keyFiguresHeading {
			out.KeyFigures = figures
		}
		out.Sections = append(out.Sections, drafted)
	}

	parts := make([]string, 0, len(out.Sections))
	for _, s := range out.Sections {
		parts = append(parts, s.Heading+"\n"+s.Content)
	}
	assembled := strings.Join(parts, "\n\n")

	final, err := g.llm.GenerateJSON(ctx, core.JSONRequest{
		Model:        g.cfg.Model,
		SystemPrompt: systemFinal + "\n\n" + rule,
		UserPrompt:   "Drafted sections:\n\n" + assembled,
		Temperature:  g.cfg.Temperature,
	})
	if err != nil {
		if !errors.Is(err, core.ErrMalformedResponse) {
			return nil, fmt.Errorf("report wrapper: %w", err)
		}
		log.Warn("report wrapper malformed, using defaults", "error", err)
		final = map[string]any{}
	}

	out.Title = textField(final, "title")
	if strings.TrimSpace(out.Title) == "" {
		out.Title = "Report for " + doc.FileName
	}
	out.Summary = textField(final, "summary")
	out.Conclusion = textField(final, "conclusion")

	log.Info("report drafted", "sections", len(out.Sections), "key_figures", len(out.KeyFigures))
	return out, nil
}

func (g *Generator) draftSection(ctx context.Context, documentID string, sec Section, rule string) (models.ReportSection, []models.KeyFigure, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "report.section",
		trace.WithAttributes(attribute.String("section_heading", sec.Heading)))
	defer span.End()

	ev := g.gatherEvidence(ctx, documentID, sec)
	span.SetAttributes(
		attribute.Int("hits_count", len(ev.sources)),
		attribute.Int("evidence_chars", len(ev.text)),
		attribute.String("evidence_hash", hashText(ev.text)),
	)

	prompt := fmt.Sprintf("Section: %s\nInstruction: %s\n\nEvidence (use only this):\n%s", sec.Heading, sec.Instruction, ev.text)
	prompt = strings.TrimSpace(prompt)

	system := systemSection
	if sec.Heading == keyFiguresHeading {
		system = systemKeyFigures
	}
	resp, err := g.llm.GenerateJSON(ctx, core.JSONRequest{
		Model:        g.cfg.Model,
		SystemPrompt: system + "\n\n" + rule,
		UserPrompt:   prompt,
		Temperature:  g.cfg.Temperature,
	})
	if err != nil {
		if !errors.Is(err, core.ErrMalformedResponse) {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, "llm failed")
			return models.ReportSection{}, nil, err
		}
		g.log.Warn("section response malformed, using fallback", "document_id", documentID, "section", sec.Heading, "error", err)
		resp = map[string]any{}
	}

	if sec.Heading == keyFiguresHeading {
		figures := g.keyFigures(resp)
		return models.ReportSection{
			Heading: sec.Heading,
			Content: RenderKeyFigures(figures),
			Sources: sourcesOr(resp, ev.sources),
		}, figures, nil
	}

	heading := textField(resp, "heading")
	if strings.TrimSpace(heading) == "" {
		heading = sec.Heading
	}
	return models.ReportSection{
		Heading: heading,
		Content: textField(resp, "content"),
		Sources: sourcesOr(resp, ev.sources),
	}, nil, nil
}

// keyFigures validates at most MaxKeyFigures raw entries and normalizes
// the survivors.
func (g *Generator) keyFigures(resp map[string]any) []models.KeyFigure {
	raw, ok := resp["key_figures"].([]any)
	if !ok {
		return []models.KeyFigure{}
	}
	if len(raw) > g.cfg.MaxKeyFigures {
		raw = raw[:g.cfg.MaxKeyFigures]
	}
	out := make([]models.KeyFigure, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		kf := models.KeyFigure{
			Name:    scalarString(m["name"]),
			Value:   scalarString(m["value"]),
			Unit:    scalarString(m["unit"]),
			Context: scalarString(m["context"]),
		}
		if err := g.validate.Struct(kf); err != nil {
			continue
		}
		out = append(out, NormalizeKeyFigure(kf))
	}
	return out
}

// sourcesOr uses the model's sources when it returned a list with at least
// one usable record and the evidence provenance otherwise.
func sourcesOr(resp map[string]any, fallback []models.SourceRecord) []models.SourceRecord {
	raw, ok := resp["sources"].([]any)
	if !ok {
		return fallback
	}
	out := make([]models.SourceRecord, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ib, err := json.Marshal(m)
		if err != nil {
			continue
		}
		var rec models.SourceRecord
		if json.Unmarshal(ib, &rec) == nil {
			out = append(out, rec)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

// textField reads a string field; lists of strings are joined by newlines
// and other values are rendered as JSON.
func textField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		lines := make([]string, 0, len(v))
		for _, item := range v {
			lines = append(lines, scalarString(item))
		}
		return strings.Join(lines, "\n")
	default:
		return scalarString(v)
	}
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64, bool, json.Number:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func hashText(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
