package anonymizer

import (
	"regexp"
	"strings"

	"github.com/upb/privacy-shield/internal/detector"
)

// EntityType represents the kind of value a placeholder stands for
type EntityType string

const (
	EntityPerson       EntityType = "person"
	EntityOrganization EntityType = "organization"
	EntityEmail        EntityType = "email"
	EntityPhone        EntityType = "phone"
	EntityNationalID   EntityType = "national_id"
	EntityBankAccount  EntityType = "bank_account"
	EntityAddress      EntityType = "address"
	EntityNumber       EntityType = "number"
)

// EntityTypes lists every entity type in masking priority order
var EntityTypes = []EntityType{
	EntityEmail,
	EntityBankAccount,
	EntityNationalID,
	EntityPhone,
	EntityAddress,
	EntityOrganization,
	EntityPerson,
	EntityNumber,
}

// entityForCategory maps detector categories onto entity types
var entityForCategory = map[detector.Category]EntityType{
	detector.CategoryEmail:      EntityEmail,
	detector.CategoryPhone:      EntityPhone,
	detector.CategoryNationalID: EntityNationalID,
	detector.CategoryBank:       EntityBankAccount,
	detector.CategoryName:       EntityPerson,
}

// placeholder describes how tokens for an entity type are rendered
type placeholder struct {
	prefix  string
	letters bool
}

var placeholders = map[EntityType]placeholder{
	EntityPerson:       {prefix: "PERSON", letters: true},
	EntityOrganization: {prefix: "ORG", letters: true},
	EntityEmail:        {prefix: "EMAIL"},
	EntityPhone:        {prefix: "PHONE"},
	EntityNationalID:   {prefix: "ID"},
	EntityBankAccount:  {prefix: "IBAN"},
	EntityAddress:      {prefix: "ADDRESS"},
	EntityNumber:       {prefix: "NUMBER"},
}

// priority returns the rank of an entity type when spans tie
func priority(t EntityType) int {
	for i, et := range EntityTypes {
		if et == t {
			return i
		}
	}
	return len(EntityTypes)
}

var (
	// Street addresses - Swedish suffix form and English number-first form.
	// Group 1 is the address itself.
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:^|[^\p{L}\p{N}])(\p{Lu}\p{Ll}*(?:gatan|gata|vägen|väg|stigen|stig|gränd|torget|plan)\s+\d+[A-Za-z]?)(?:[^\p{L}\p{N}]|$)`),
		regexp.MustCompile(`\b(\d+\s+\p{Lu}\p{Ll}+\s+(?:Street|St|Avenue|Ave|Road|Rd|Lane|Ln|Drive|Dr|Boulevard|Blvd))\b`),
	}

	// Organizations with a legal-form suffix
	organizationPattern = regexp.MustCompile(`(?:^|[^\p{L}\p{N}])((?:\p{Lu}[\p{L}&\-]*\s+){1,3}(?:AB|Inc|Ltd|LLC|GmbH|Corp))(?:[^\p{L}\p{N}]|$)`)

	// broadNumberPattern catches long digit runs with separators (level 1+)
	broadNumberPattern = regexp.MustCompile(`\b\d[\d\-. ]{5,}\d\b`)

	// anyNumberPattern catches every run of four or more digits (level 2+)
	anyNumberPattern = regexp.MustCompile(`\b\d{4,}\b`)

	wordPattern = regexp.MustCompile(`\p{L}+`)
)

// stopWords are capitalized words that commonly open sentences or name
// calendar terms. Level 0 trims them from the ends of a name run.
var stopWords = map[string][]string{
	"en": {
		"The", "This", "That", "There", "These", "Those", "When", "Where", "What",
		"Which", "Who", "How", "Dear", "Hello", "Best", "Regards", "Thanks",
		"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday",
		"January", "February", "March", "April", "June", "July", "August",
		"September", "October", "November", "December", "Main", "Street",
	},
	"sv": {
		"Hej", "Med", "Vänliga", "Hälsningar", "Tack", "Den", "Det", "Detta",
		"Där", "När", "Vad", "Vem", "Hur", "Som", "Och", "Men", "Enligt",
		"Måndag", "Tisdag", "Onsdag", "Torsdag", "Fredag", "Lördag", "Söndag",
		"Januari", "Februari", "Mars", "April", "Maj", "Juni", "Juli", "Augusti",
		"September", "Oktober", "November", "December",
	},
}

// stopWordSet returns the stop words for language, or every list when the
// language is unknown.
func stopWordSet(language string) map[string]struct{} {
	set := make(map[string]struct{})
	lists, ok := stopWords[strings.ToLower(language)]
	if ok {
		for _, w := range lists {
			set[w] = struct{}{}
		}
		return set
	}
	for _, words := range stopWords {
		for _, w := range words {
			set[w] = struct{}{}
		}
	}
	return set
}
