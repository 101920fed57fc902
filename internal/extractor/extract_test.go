package extractor

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"refind/internal/util"

	"github.com/stretchr/testify/require"
)

const fulltextTEI = `<?xml version="1.0" encoding="UTF-8"?>
<TEI xmlns="http://www.tei-c.org/ns/1.0">
 <teiHeader>
  <fileDesc>
   <titleStmt><title level="a" type="main">Attention Is All You Need</title></titleStmt>
   <sourceDesc><biblStruct><analytic>
     <author>
      <persName><forename type="first">Ashish</forename><surname>Vaswani</surname></persName>
      <email>av@example.com</email>
      <affiliation><orgName type="institution">Google Brain</orgName></affiliation>
      <idno type="ORCID">0000-0001-2345-6789</idno>
     </author>
     <author><persName><forename type="first">Stanford</forename><surname>University</surname></persName></author>
     <author><persName><forename type="first">N</forename><surname>Shazeer</surname></persName></author>
    </analytic><monogr><imprint><date type="published" when="2017-06-12"/></imprint></monogr></biblStruct></sourceDesc>
  </fileDesc>
  <profileDesc><abstract><div><p>The dominant sequence transduction models.</p></div></abstract></profileDesc>
 </teiHeader>
 <text>
  <body>
   <div><head n="1.">Introduction</head><p>Recurrent neural networks.</p><p>Second paragraph.</p>
    <div><head n="1.1.">Background</head><p>Nested content.</p></div>
   </div>
   <div><head>Figure 2</head><p>caption text</p></div>
   <div><head>3</head><p>stray numbering</p></div>
  </body>
  <back>
   <div type="references"><listBibl>
    <biblStruct>
     <analytic>
      <title level="a" type="main">Neural Machine Translation</title>
      <author><persName><forename type="first">Dzmitry</forename><surname>Bahdanau</surname></persName></author>
      <idno type="DOI">10.1234/nmt</idno>
     </analytic>
     <monogr><title level="j">ICLR</title><imprint><date type="published" when="2015"/></imprint></monogr>
    </biblStruct>
    <biblStruct><monogr><imprint><date when="2010"/></imprint></monogr></biblStruct>
   </listBibl></div>
  </back>
 </text>
</TEI>`

const headerTEI = `<?xml version="1.0" encoding="UTF-8"?>
<TEI xmlns="http://www.tei-c.org/ns/1.0">
 <teiHeader>
  <fileDesc>
   <titleStmt><title level="a" type="main">Attention Is All You Need (Header)</title></titleStmt>
   <sourceDesc><biblStruct><analytic>
    <author><persName><forename type="first">Ashish</forename><surname>Vaswani</surname></persName></author>
   </analytic><monogr><imprint><date type="published" when="2017"/></imprint></monogr></biblStruct></sourceDesc>
  </fileDesc>
 </teiHeader>
 <text><body/></text>
</TEI>`

func TestParseFulltextTEI(t *testing.T) {
	doc, err := parseTEI([]byte(fulltextTEI))
	require.NoError(t, err)

	require.Equal(t, "Attention Is All You Need", docTitle(doc))
	require.Equal(t, "2017", docYear(doc))
	require.Equal(t, "The dominant sequence transduction models.", docAbstract(doc))

	authors := docAuthors(doc)
	require.Len(t, authors, 1, "organizational and short-name entries must be filtered")
	require.Equal(t, "Vaswani", authors[0].Lastname)
	require.Equal(t, "av@example.com", authors[0].Email)
	require.Equal(t, "Google Brain", authors[0].Affiliation)
	require.Equal(t, "0000-0001-2345-6789", authors[0].ORCID)
}

func TestOrganizationalAuthorFiltered(t *testing.T) {
	doc, err := parseTEI([]byte(fulltextTEI))
	require.NoError(t, err)
	for _, a := range docAuthors(doc) {
		require.NotEqual(t, "Stanford University", a.Firstname+" "+a.Lastname)
	}
	require.True(t, looksOrganizational("Stanford University"))
	require.False(t, looksOrganizational("Ada Lovelace"))
}

func TestSectionsFlattenedWithLevels(t *testing.T) {
	doc, err := parseTEI([]byte(fulltextTEI))
	require.NoError(t, err)

	sections := sectionsFrom(doc)
	require.Len(t, sections, 2, "caption and numbering divs must be dropped")
	require.Equal(t, "Introduction", sections[0].Title)
	require.Equal(t, 1, sections[0].Level)
	require.Equal(t, "Recurrent neural networks.\n\nSecond paragraph.", sections[0].Content)
	require.Equal(t, "Background", sections[1].Title)
	require.Equal(t, 2, sections[1].Level)
}

func TestReferencesKeepRule(t *testing.T) {
	doc, err := parseTEI([]byte(fulltextTEI))
	require.NoError(t, err)

	refs := referencesFrom(doc)
	require.Len(t, refs, 1, "entry without title and without authors+year must be dropped")
	require.Equal(t, "Neural Machine Translation", refs[0].Title)
	require.Equal(t, "10.1234/nmt", refs[0].DOI)
	require.Equal(t, "ICLR", refs[0].Venue)
	require.Equal(t, "2015", refs[0].Year)
	require.Equal(t, "Bahdanau", refs[0].Authors[0].Lastname)
}

func TestIsBoilerplateTitle(t *testing.T) {
	for _, title := range []string{"", "3", "2.1", "Figure 4", "Table 2", "end for", "iv.", "VII"} {
		if !isBoilerplateTitle(title) {
			t.Fatalf("%q should be boilerplate", title)
		}
	}
	for _, title := range []string{"Introduction", "2 Related Work", "Methods"} {
		if isBoilerplateTitle(title) {
			t.Fatalf("%q should not be boilerplate", title)
		}
	}
}

func TestExtractPrefersHeaderFields(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/processHeaderDocument":
			w.Write([]byte(headerTEI))
		case "/api/processFulltextDocument":
			w.Write([]byte(fulltextTEI))
		case "/api/processReferences":
			w.Write([]byte(fulltextTEI))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	e := New(NewGrobid(srv.URL, 5*time.Second))
	paper, err := e.Extract(context.Background(), []byte("%PDF-fake"), "attention.pdf")
	require.NoError(t, err)
	require.Equal(t, "Attention Is All You Need (Header)", paper.Title)
	require.Len(t, paper.Sections, 2)
	require.Len(t, paper.References, 1)
	require.Contains(t, paper.BodyText, "## Introduction")
}

func TestExtractHeaderFailureFallsBackToFulltext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/processFulltextDocument" {
			w.Write([]byte(fulltextTEI))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := New(NewGrobid(srv.URL, 5*time.Second))
	paper, err := e.Extract(context.Background(), []byte("%PDF-fake"), "attention.pdf")
	require.NoError(t, err)
	require.Equal(t, "Attention Is All You Need", paper.Title)
}

func TestExtractFulltextFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := New(NewGrobid(srv.URL, 5*time.Second))
	_, err := e.Extract(context.Background(), []byte("%PDF-fake"), "attention.pdf")
	require.Error(t, err)
	require.True(t, errors.Is(err, util.ErrUpstream))
}

func TestTitleFromFilenameFallback(t *testing.T) {
	require.Equal(t, "deep residual learning", titleFromFilename("deep_residual-learning.pdf"))
}
