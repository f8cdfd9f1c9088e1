package ingestion_engine

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"code.sajari.com/docconv"

	"github.com/markdave123-py/insightai/internal/core"
)

var _ core.DocumentExtractor = (*DocconvExtractor)(nil)

func NewDocconvExtractor(useReadability bool) *DocconvExtractor {
	return &DocconvExtractor{useReadability: useReadability}
}

// ExtractText converts DOCX, ODT, RTF, HTML and friends with docconv.
// Plain text is decoded directly.
func (e *DocconvExtractor) ExtractText(ctx context.Context, data []byte, contentType string) (*core.ExtractedText, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if isPlainText(contentType) {
		if !utf8.Valid(data) {
			data = bytes.ToValidUTF8(data, nil)
		}
		text := strings.TrimPrefix(string(data), "\ufeff")
		return &core.ExtractedText{Text: text, Metadata: map[string]string{}}, nil
	}

	res, err := docconv.Convert(bytes.NewReader(data), contentType, e.useReadability)
	if err != nil {
		return nil, fmt.Errorf("%w: docconv %s: %v", core.ErrParseFailure, contentType, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &core.ExtractedText{Text: res.Body, Metadata: res.Meta}, nil
}

func isPlainText(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	return ct == "text/plain" || ct == "text/markdown" || ct == ""
}
