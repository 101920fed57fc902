package refdiscovery

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"refind/internal/logger"
	"refind/internal/models"
	"refind/internal/util"
)

// similarityThreshold is the minimum title similarity for accepting a search
// hit as the referenced paper.
const similarityThreshold = 0.5

// Candidate is one possible online location of a referenced paper.
type Candidate struct {
	Title    string   `json:"title"`
	Abstract string   `json:"abstract,omitempty"`
	PDFURLs  []string `json:"pdf_urls"`
	Source   string   `json:"source"`
	Score    float64  `json:"score"`
}

// Searcher looks up references on arXiv and Semantic Scholar. Both backends
// are queried by title; hits below the similarity threshold are discarded.
type Searcher struct {
	arxivBaseURL string
	s2BaseURL    string
	client       *http.Client
	log          *slog.Logger
}

func NewSearcher(timeout time.Duration) *Searcher {
	return &Searcher{
		arxivBaseURL: "http://export.arxiv.org",
		s2BaseURL:    "https://api.semanticscholar.org",
		client:       &http.Client{Timeout: timeout},
		log:          logger.WithComponent("refsearch"),
	}
}

// WithEndpoints overrides the backend base URLs, used in tests.
func (s *Searcher) WithEndpoints(arxiv, s2 string) *Searcher {
	if arxiv != "" {
		s.arxivBaseURL = arxiv
	}
	if s2 != "" {
		s.s2BaseURL = s2
	}
	return s
}

// Search returns fetch candidates for a reference, best matches first. A DOI
// always contributes a doi.org candidate regardless of search results.
// Backend failures degrade to fewer candidates, never to an error.
func (s *Searcher) Search(ctx context.Context, ref models.ReferenceEntry) []Candidate {
	var out []Candidate
	if ref.DOI != "" {
		out = append(out, Candidate{
			Title:   ref.Title,
			PDFURLs: []string{"https://doi.org/" + ref.DOI},
			Source:  "doi",
			Score:   1.0,
		})
	}
	if ref.Title == "" {
		return out
	}
	if hits, err := s.searchArxiv(ctx, ref.Title); err != nil {
		s.log.Debug("arxiv search failed", "title", ref.Title, "error", err)
	} else {
		out = append(out, hits...)
	}
	if hits, err := s.searchSemanticScholar(ctx, ref.Title); err != nil {
		s.log.Debug("semantic scholar search failed", "title", ref.Title, "error", err)
	} else {
		out = append(out, hits...)
	}
	return out
}

type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	Title   string     `xml:"title"`
	Summary string     `xml:"summary"`
	Links   []atomLink `xml:"link"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

func (s *Searcher) searchArxiv(ctx context.Context, title string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("search_query", fmt.Sprintf(`ti:%q`, NormalizeTitle(title)))
	q.Set("max_results", "5")

	body, err := s.get(ctx, s.arxivBaseURL+"/api/query?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parse arxiv feed: %w", err)
	}

	var out []Candidate
	for _, entry := range feed.Entries {
		score := titleSimilarity(title, entry.Title)
		if score < similarityThreshold {
			continue
		}
		var pdfs []string
		for _, link := range entry.Links {
			if link.Title == "pdf" || link.Type == "application/pdf" {
				pdfs = append(pdfs, link.Href)
			}
		}
		if len(pdfs) == 0 {
			continue
		}
		out = append(out, Candidate{
			Title:    entry.Title,
			Abstract: entry.Summary,
			PDFURLs:  pdfs,
			Source:   "arxiv",
			Score:    score,
		})
	}
	return out, nil
}

type s2Response struct {
	Data []struct {
		Title         string `json:"title"`
		Abstract      string `json:"abstract"`
		OpenAccessPdf *struct {
			URL string `json:"url"`
		} `json:"openAccessPdf"`
		ExternalIds map[string]any `json:"externalIds"`
	} `json:"data"`
}

func (s *Searcher) searchSemanticScholar(ctx context.Context, title string) ([]Candidate, error) {
	q := url.Values{}
	q.Set("query", title)
	q.Set("limit", "5")
	q.Set("fields", "title,abstract,externalIds,openAccessPdf")

	body, err := s.get(ctx, s.s2BaseURL+"/graph/v1/paper/search?"+q.Encode())
	if err != nil {
		return nil, err
	}
	var resp s2Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse semantic scholar response: %w", err)
	}

	var out []Candidate
	for _, hit := range resp.Data {
		score := titleSimilarity(title, hit.Title)
		if score < similarityThreshold {
			continue
		}
		var pdfs []string
		if hit.OpenAccessPdf != nil && hit.OpenAccessPdf.URL != "" {
			pdfs = append(pdfs, hit.OpenAccessPdf.URL)
		}
		if doi, ok := hit.ExternalIds["DOI"].(string); ok && doi != "" {
			pdfs = append(pdfs, "https://doi.org/"+doi)
		}
		if len(pdfs) == 0 {
			continue
		}
		out = append(out, Candidate{
			Title:    hit.Title,
			Abstract: hit.Abstract,
			PDFURLs:  pdfs,
			Source:   "semanticscholar",
			Score:    score,
		})
	}
	return out, nil
}

func (s *Searcher) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", util.ErrUpstream, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: search returned status %d", util.ErrUpstream, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 4<<20))
}
