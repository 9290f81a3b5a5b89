package normalize

import (
	"regexp"
	"strings"
)

// orgKeywords mark client names that belong to organizations or managed
// sites rather than people.
var orgKeywords = []string{
	"colony", "rescue", "shelter", "sanctuary", "clinic", "veterinary",
	"humane", "society", "spca", "animal control", "cattery",
	"llc", "inc", "corp", "company",
	"church", "school", "farm", "ranch", "barn", "stable",
	"apartments", "apartment complex", "mobile home", "trailer park",
	"restaurant", "cafe", "motel", "hotel", "store", "market", "warehouse",
	"feed station", "feeding station",
}

// streetSuffixes are the tokens that make a bare string look like an
// address rather than a name.
var streetSuffixes = map[string]bool{
	"st": true, "street": true,
	"ave": true, "avenue": true,
	"rd": true, "road": true,
	"dr": true, "drive": true,
	"ln": true, "lane": true,
	"ct": true, "court": true,
	"blvd": true, "boulevard": true,
	"hwy": true, "highway": true,
	"way": true, "cir": true, "circle": true,
	"pl": true, "place": true, "loop": true, "trl": true, "trail": true,
}

var leadingNumberRe = regexp.MustCompile(`^\d+\s`)

// IsLikelyAccount reports whether a client name with the given contact
// details describes an organizational account or managed site instead of a
// person. Any real contact detail keeps the profile a person; vet systems
// only attach emails and phones to humans.
func IsLikelyAccount(name, email, phone string) bool {
	name = Text(name)
	if name == "" {
		return false
	}
	if Email(email) != "" || Phone(phone) != "" {
		return false
	}

	for _, kw := range orgKeywords {
		if containsWord(name, kw) {
			return true
		}
	}

	// "123 main st" style pseudo-profiles: a leading house number plus a
	// street suffix token anywhere after it.
	if leadingNumberRe.MatchString(name) {
		for _, tok := range strings.Fields(name) {
			if streetSuffixes[tok] {
				return true
			}
		}
	}

	return false
}

// containsWord matches kw on word boundaries inside the normalized name.
func containsWord(name, kw string) bool {
	if !strings.Contains(name, kw) {
		return false
	}
	if !strings.Contains(kw, " ") {
		for _, tok := range strings.Fields(name) {
			if tok == kw {
				return true
			}
		}
		return false
	}
	return strings.Contains(" "+name+" ", " "+kw+" ")
}
