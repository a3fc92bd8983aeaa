package settings

import (
	"strings"

	"golang.org/x/text/language"
)

// DefaultLocalization is used for languages the HS backend does not publish.
const DefaultLocalization = "en_US"

// hsLocales maps the supported UI languages to HS localization codes. The
// order matches matcherTags.
var hsLocales = []string{"en_US", "uk_UA", "ru_RU", "de_DE", "ro_RO", "pl_PL"}

var matcherTags = []language.Tag{
	language.English,
	language.Ukrainian,
	language.Russian,
	language.German,
	language.Romanian,
	language.Polish,
}

var matcher = language.NewMatcher(matcherTags)

// Localization converts a bare language ("uk"), a BCP-47 tag ("de-AT"), an
// HS code ("ru_RU") or an Accept-Language header into an HS localization
// code. Anything unsupported yields en_US.
func Localization(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return DefaultLocalization
	}
	for _, l := range hsLocales {
		if strings.EqualFold(input, l) {
			return l
		}
	}

	tags, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(input, "_", "-"))
	if err != nil || len(tags) == 0 {
		return DefaultLocalization
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return DefaultLocalization
	}
	return hsLocales[idx]
}
