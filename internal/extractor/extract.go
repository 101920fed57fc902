package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"refind/internal/logger"
	"refind/internal/models"
	"refind/internal/util"
)

// Extractor turns PDF bytes into a normalized Paper via the parsing service.
// Each field is resolved by an ordered fallback chain: header TEI first,
// full-document TEI second, then a derived default. Per-field and per-entry
// failures are recovered locally; only a failed full-document call is fatal.
type Extractor struct {
	grobid *Grobid
	log    *slog.Logger
}

func New(grobid *Grobid) *Extractor {
	return &Extractor{grobid: grobid, log: logger.WithComponent("extractor")}
}

func (e *Extractor) Extract(ctx context.Context, pdf []byte, filename string) (models.Paper, error) {
	fullData, err := e.grobid.ProcessFulltext(ctx, pdf)
	if err != nil {
		return models.Paper{}, err
	}
	fullDoc, err := parseTEI(fullData)
	if err != nil {
		return models.Paper{}, fmt.Errorf("%w: fulltext TEI: %v", util.ErrUpstream, err)
	}

	headerDoc := e.tryProcess(ctx, pdf, "header", e.grobid.ProcessHeader)
	refsDoc := e.tryProcess(ctx, pdf, "references", e.grobid.ProcessReferences)

	paper := models.Paper{
		Title:    firstNonEmpty(docTitle(headerDoc), docTitle(fullDoc), titleFromFilename(filename)),
		Year:     firstNonEmpty(docYear(headerDoc), docYear(fullDoc)),
		Abstract: util.SanitizeText(firstNonEmpty(docAbstract(headerDoc), docAbstract(fullDoc))),
		Sections: sectionsFrom(fullDoc),
	}

	paper.Authors = docAuthors(headerDoc)
	if len(paper.Authors) == 0 {
		paper.Authors = docAuthors(fullDoc)
	}

	paper.References = referencesFrom(refsDoc)
	if len(paper.References) == 0 {
		paper.References = referencesFrom(fullDoc)
	}

	for i := range paper.Sections {
		paper.Sections[i].Content = util.SanitizeText(paper.Sections[i].Content)
	}
	paper.BodyText = bodyText(paper.Sections)

	if paper.BodyText == "" {
		text, lerr := LocalText(pdf)
		if lerr != nil {
			e.log.Warn("no body text from parser and local extraction failed", "file", filename, "error", lerr)
		} else {
			paper.Sections = append(paper.Sections, models.Section{Title: "Main Text", Content: text, Level: 1})
			paper.BodyText = text
		}
	}
	return paper, nil
}

func (e *Extractor) tryProcess(ctx context.Context, pdf []byte, kind string, call func(context.Context, []byte) ([]byte, error)) *teiDocument {
	data, err := call(ctx, pdf)
	if err != nil {
		e.log.Warn("grobid call failed, falling back to full document", "endpoint", kind, "error", err)
		return nil
	}
	doc, err := parseTEI(data)
	if err != nil {
		e.log.Warn("unparseable TEI, falling back to full document", "endpoint", kind, "error", err)
		return nil
	}
	return doc
}

func docTitle(doc *teiDocument) string {
	if doc == nil {
		return ""
	}
	return pickTitle(doc.Header.FileDesc.TitleStmt.Titles)
}

func docAuthors(doc *teiDocument) []models.Author {
	if doc == nil {
		return nil
	}
	var raw []teiAuthor
	for _, bibl := range doc.Header.FileDesc.SourceDesc.BiblStructs {
		if bibl.Analytic != nil {
			raw = append(raw, bibl.Analytic.Authors...)
		}
		if bibl.Monogr != nil {
			raw = append(raw, bibl.Monogr.Authors...)
		}
	}
	return authorsFrom(raw)
}

func docYear(doc *teiDocument) string {
	if doc == nil {
		return ""
	}
	for _, bibl := range doc.Header.FileDesc.SourceDesc.BiblStructs {
		if bibl.Monogr == nil {
			continue
		}
		if y := pickYear(bibl.Monogr.Imprint.Dates); y != "" {
			return y
		}
	}
	return ""
}

func docAbstract(doc *teiDocument) string {
	if doc == nil {
		return ""
	}
	var parts []string
	if p := joinParagraphs(doc.Header.ProfileDesc.Abstract.Paragraphs); p != "" {
		parts = append(parts, p)
	}
	for _, div := range doc.Header.ProfileDesc.Abstract.Divs {
		if p := joinParagraphs(div.Paragraphs); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "\n\n")
}

// bodyText renders the flattened sections as markdown-ish text, the shape the
// chunker and reference pipeline consume.
func bodyText(sections []models.Section) string {
	var parts []string
	for _, s := range sections {
		if s.Content == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", s.Title, s.Content))
	}
	return strings.Join(parts, "\n\n")
}

func titleFromFilename(filename string) string {
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return cleanText(base)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
