package detector

import "regexp"

// Category represents a class of directly identifying information
type Category string

const (
	CategoryEmail      Category = "email"
	CategoryPhone      Category = "phone"
	CategoryNationalID Category = "national_id"
	CategoryBank       Category = "bank_account"
	CategoryName       Category = "name_pair"
)

// Categories lists every category in detection order.
// Verification reason codes follow this order.
var Categories = []Category{
	CategoryEmail,
	CategoryPhone,
	CategoryNationalID,
	CategoryBank,
	CategoryName,
}

// ReasonCode is a stable verification failure identifier
type ReasonCode string

const (
	ReasonEmail      ReasonCode = "email_pattern_detected"
	ReasonPhone      ReasonCode = "phone_pattern_detected"
	ReasonNationalID ReasonCode = "national_id_pattern_detected"
	ReasonBank       ReasonCode = "bank_pattern_detected"
	ReasonName       ReasonCode = "potential_name_patterns"
)

// reasonFor maps a category to its reason code
var reasonFor = map[Category]ReasonCode{
	CategoryEmail:      ReasonEmail,
	CategoryPhone:      ReasonPhone,
	CategoryNationalID: ReasonNationalID,
	CategoryBank:       ReasonBank,
	CategoryName:       ReasonName,
}

// NamePairThreshold is the number of capitalized word pairs tolerated by
// verification. More than this many pairs fails the check.
const NamePairThreshold = 3

var (
	// Email pattern - local@domain.tld
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)

	// Phone patterns - generic 3-3-4, regional, and internationally prefixed regional
	phonePatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),                                // 555-123-4567
		regexp.MustCompile(`\b0\d{1,2}[-.\s]?\d{3}[-.\s]?\d{2,3}[-.\s]?\d{2,3}\b`),         // 070-123 45 67, 08-123 45 67
		regexp.MustCompile(`\+46[\s-]?\d{1,2}[-.\s]?\d{3}[-.\s]?\d{2,3}[-.\s]?\d{2,3}\b`), // +46 8 123 45 67
	}

	// National ID pattern - XXX-XX-XXXX
	nationalIDPattern = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)

	// Bank identifier pattern - country code, check digits, alphanumeric block, account digits
	bankPattern = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{4,}\d{7,}\b`)

	// wordPattern splits text into letter runs for the name heuristic
	wordPattern = regexp.MustCompile(`\p{L}+`)
)

// structuredPatterns is the single pattern table shared by counting and
// verification mode. Names are handled by the pair scanner.
var structuredPatterns = []struct {
	category Category
	patterns []*regexp.Regexp
}{
	{CategoryEmail, []*regexp.Regexp{emailPattern}},
	{CategoryPhone, phonePatterns},
	{CategoryNationalID, []*regexp.Regexp{nationalIDPattern}},
	{CategoryBank, []*regexp.Regexp{bankPattern}},
}
