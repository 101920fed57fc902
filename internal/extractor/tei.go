package extractor

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Minimal TEI model covering the elements GROBID emits that extraction reads.
// Element names are unqualified so the TEI namespace matches without
// declaring it on every field.

type teiDocument struct {
	XMLName xml.Name  `xml:"TEI"`
	Header  teiHeader `xml:"teiHeader"`
	Text    teiText   `xml:"text"`
}

type teiHeader struct {
	FileDesc    teiFileDesc    `xml:"fileDesc"`
	ProfileDesc teiProfileDesc `xml:"profileDesc"`
}

type teiFileDesc struct {
	TitleStmt  teiTitleStmt  `xml:"titleStmt"`
	SourceDesc teiSourceDesc `xml:"sourceDesc"`
}

type teiTitleStmt struct {
	Titles []teiTitle `xml:"title"`
}

type teiTitle struct {
	Level string `xml:"level,attr"`
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type teiSourceDesc struct {
	BiblStructs []teiBiblStruct `xml:"biblStruct"`
}

type teiProfileDesc struct {
	Abstract teiAbstract `xml:"abstract"`
}

type teiAbstract struct {
	Divs       []teiDiv `xml:"div"`
	Paragraphs []string `xml:"p"`
}

type teiText struct {
	Body teiBody `xml:"body"`
	Back teiBack `xml:"back"`
}

type teiBody struct {
	Divs []teiDiv `xml:"div"`
}

type teiDiv struct {
	Head       teiHead  `xml:"head"`
	Paragraphs []string `xml:"p"`
	Divs       []teiDiv `xml:"div"`
}

type teiHead struct {
	N     string `xml:"n,attr"`
	Value string `xml:",chardata"`
}

type teiBack struct {
	Divs []teiBackDiv `xml:"div"`
}

type teiBackDiv struct {
	Type     string      `xml:"type,attr"`
	ListBibl teiListBibl `xml:"listBibl"`
}

type teiListBibl struct {
	BiblStructs []teiBiblStruct `xml:"biblStruct"`
}

type teiBiblStruct struct {
	Analytic *teiAnalytic `xml:"analytic"`
	Monogr   *teiMonogr   `xml:"monogr"`
}

type teiAnalytic struct {
	Titles  []teiTitle  `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	Idnos   []teiIdno   `xml:"idno"`
}

type teiMonogr struct {
	Titles  []teiTitle  `xml:"title"`
	Authors []teiAuthor `xml:"author"`
	Meeting *teiMeeting `xml:"meeting"`
	Imprint teiImprint  `xml:"imprint"`
	Idnos   []teiIdno   `xml:"idno"`
}

type teiMeeting struct {
	Value string `xml:",chardata"`
}

type teiImprint struct {
	Dates []teiDate `xml:"date"`
}

type teiDate struct {
	Type  string `xml:"type,attr"`
	When  string `xml:"when,attr"`
	Value string `xml:",chardata"`
}

type teiAuthor struct {
	PersName     *teiPersName     `xml:"persName"`
	Email        string           `xml:"email"`
	Affiliations []teiAffiliation `xml:"affiliation"`
	Idnos        []teiIdno        `xml:"idno"`
}

type teiPersName struct {
	Forenames []teiForename `xml:"forename"`
	Surname   string        `xml:"surname"`
}

type teiForename struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type teiAffiliation struct {
	OrgNames []teiOrgName `xml:"orgName"`
}

type teiOrgName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

type teiIdno struct {
	Type  string `xml:"type,attr"`
	Value string `xml:",chardata"`
}

func parseTEI(data []byte) (*teiDocument, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.Strict = false
	var doc teiDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parse TEI: %w", err)
	}
	return &doc, nil
}

// cleanText collapses the run-together whitespace TEI chardata carries.
func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
