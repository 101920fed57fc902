package extractor

import (
	"strings"

	"refind/internal/models"
)

// orgKeywords is a closed list of tokens that mark a resolved "name" as an
// organization rather than a person. GROBID occasionally promotes affiliation
// lines into the author list; this filter is a heuristic, not a guarantee.
var orgKeywords = map[string]struct{}{
	"university": {}, "universite": {}, "universidad": {}, "universitat": {},
	"institute": {}, "institution": {}, "institut": {},
	"laboratory": {}, "laboratories": {}, "lab": {}, "labs": {},
	"department": {}, "dept": {},
	"college": {}, "school": {}, "academy": {},
	"center": {}, "centre": {},
	"corporation": {}, "corp": {}, "inc": {}, "ltd": {}, "gmbh": {},
	"foundation": {}, "association": {}, "society": {}, "committee": {},
	"faculty": {}, "division": {}, "research": {}, "sciences": {},
	"city": {}, "campus": {},
}

func looksOrganizational(name string) bool {
	for _, tok := range strings.Fields(strings.ToLower(name)) {
		tok = strings.Trim(tok, ".,;:()")
		if _, ok := orgKeywords[tok]; ok {
			return true
		}
	}
	return false
}

// authorsFrom converts TEI author entries into Author records. Entries
// without a full persName, with name components under two characters, or
// whose name hits the organizational keyword list are skipped.
func authorsFrom(raw []teiAuthor) []models.Author {
	var out []models.Author
	for _, a := range raw {
		if a.PersName == nil {
			continue
		}
		firstname := joinForenames(a.PersName.Forenames)
		lastname := cleanText(a.PersName.Surname)
		if len(firstname) < 2 || len(lastname) < 2 {
			continue
		}
		if looksOrganizational(firstname + " " + lastname) {
			continue
		}
		author := models.Author{
			Firstname: firstname,
			Lastname:  lastname,
			Email:     cleanText(a.Email),
		}
		for _, aff := range a.Affiliations {
			for _, org := range aff.OrgNames {
				if v := cleanText(org.Value); v != "" {
					author.Affiliation = v
					break
				}
			}
			if author.Affiliation != "" {
				break
			}
		}
		for _, id := range a.Idnos {
			if strings.EqualFold(id.Type, "ORCID") {
				author.ORCID = cleanText(id.Value)
			}
		}
		out = append(out, author)
	}
	return out
}

// authorsLite keeps reference authors with at least one name component and no
// length or organization requirements; bibliography entries are too noisy for
// the strict filter.
func authorsLite(raw []teiAuthor) []models.Author {
	var out []models.Author
	for _, a := range raw {
		if a.PersName == nil {
			continue
		}
		firstname := joinForenames(a.PersName.Forenames)
		lastname := cleanText(a.PersName.Surname)
		if firstname == "" && lastname == "" {
			continue
		}
		out = append(out, models.Author{Firstname: firstname, Lastname: lastname})
	}
	return out
}

func joinForenames(forenames []teiForename) string {
	parts := make([]string, 0, len(forenames))
	for _, f := range forenames {
		if v := cleanText(f.Value); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}
