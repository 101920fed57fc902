package extractor

import (
	"regexp"
	"strings"

	"refind/internal/models"
)

// boilerplatePatterns match section "titles" that are really numbering
// artifacts, float captions, or pseudocode fragments leaked by the parser.
var boilerplatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\d+(\.\d+)*\.?$`),
	regexp.MustCompile(`(?i)^(figure|fig\.?|table|algorithm|listing)\s*\d*\.?$`),
	regexp.MustCompile(`(?i)^end\s+(for|while|if|function|procedure)$`),
	regexp.MustCompile(`^[ivxlcdm]+\.?$`),
	regexp.MustCompile(`^[IVXLCDM]+\.?$`),
}

func isBoilerplateTitle(title string) bool {
	if title == "" {
		return true
	}
	for _, p := range boilerplatePatterns {
		if p.MatchString(title) {
			return true
		}
	}
	return false
}

// sectionsFrom walks the TEI body div hierarchy and flattens it into a linear
// section sequence, keeping each section's nesting level. Sections with
// boilerplate titles or no content are dropped.
func sectionsFrom(doc *teiDocument) []models.Section {
	if doc == nil {
		return nil
	}
	var out []models.Section
	for _, div := range doc.Text.Body.Divs {
		walkDiv(div, 1, &out)
	}
	return out
}

func walkDiv(div teiDiv, depth int, out *[]models.Section) {
	title := cleanText(div.Head.Value)
	level := levelFromNumbering(div.Head.N)
	if level == 0 {
		level = depth
	}
	content := joinParagraphs(div.Paragraphs)
	if !isBoilerplateTitle(title) && content != "" {
		*out = append(*out, models.Section{Title: title, Content: content, Level: level})
	}
	for _, child := range div.Divs {
		walkDiv(child, depth+1, out)
	}
}

// levelFromNumbering derives depth from a head numbering hint like "2.1.3".
func levelFromNumbering(n string) int {
	n = strings.Trim(strings.TrimSpace(n), ".")
	if n == "" {
		return 0
	}
	parts := strings.Split(n, ".")
	for _, p := range parts {
		for _, r := range p {
			if r < '0' || r > '9' {
				return 0
			}
		}
	}
	return len(parts)
}

func joinParagraphs(paragraphs []string) string {
	parts := make([]string, 0, len(paragraphs))
	for _, p := range paragraphs {
		if v := cleanText(p); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "\n\n")
}
