package parser

// Closed enumerations for the three classification fields the parser
// requires. Upload validation rejects anything outside these sets with a 422.

var languages = map[string]bool{
	"en": true,
	"de": true,
	"fr": true,
	"es": true,
	"it": true,
	"pt": true,
}

var subjects = map[string]bool{
	"math":             true,
	"physics":          true,
	"chemistry":        true,
	"biology":          true,
	"history":          true,
	"geography":        true,
	"language":         true,
	"computer-science": true,
	"economics":        true,
	"other":            true,
}

var documentTypes = map[string]bool{
	"lecture-notes": true,
	"textbook":      true,
	"exercises":     true,
	"exam":          true,
	"summary":       true,
	"article":       true,
	"other":         true,
}

func IsValidLanguage(v string) bool     { return languages[v] }
func IsValidSubject(v string) bool      { return subjects[v] }
func IsValidDocumentType(v string) bool { return documentTypes[v] }
