package stixifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/stixify/stixify/internal/models"
)

// Extractor pulls one kind of value out of text with a pattern. Validate,
// when set, filters out pattern matches that are not actually valid values.
type Extractor struct {
	Slug     string
	STIXType string
	Pattern  *regexp.Regexp
	Validate func(string) bool
}

// Extraction is one deduplicated value found in the text.
type Extraction struct {
	Extractor string `json:"extractor"`
	STIXType  string `json:"stix_type"`
	Value     string `json:"value"`
}

var extractors = []Extractor{
	{
		Slug:     "ipv4",
		STIXType: "ipv4-addr",
		Pattern:  regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		Validate: validIPv4,
	},
	{
		Slug:     "ipv6",
		STIXType: "ipv6-addr",
		Pattern:  regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{1,4}\b`),
	},
	{
		Slug:     "url",
		STIXType: "url",
		Pattern:  regexp.MustCompile(`\bhttps?://[^\s"'<>\)\]]+`),
	},
	{
		Slug:     "domain",
		STIXType: "domain-name",
		Pattern:  regexp.MustCompile(`\b(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,24}\b`),
		Validate: validDomain,
	},
	{
		Slug:     "email",
		STIXType: "email-addr",
		Pattern:  regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@(?:[a-z0-9-]+\.)+[a-z]{2,24}\b`),
	},
	{
		Slug:     "md5",
		STIXType: "file",
		Pattern:  regexp.MustCompile(`\b[a-fA-F0-9]{32}\b`),
	},
	{
		Slug:     "sha1",
		STIXType: "file",
		Pattern:  regexp.MustCompile(`\b[a-fA-F0-9]{40}\b`),
	},
	{
		Slug:     "sha256",
		STIXType: "file",
		Pattern:  regexp.MustCompile(`\b[a-fA-F0-9]{64}\b`),
	},
	{
		Slug:     "cve",
		STIXType: "vulnerability",
		Pattern:  regexp.MustCompile(`\bCVE-\d{4}-\d{4,7}\b`),
	},
	{
		Slug:     "asn",
		STIXType: "autonomous-system",
		Pattern:  regexp.MustCompile(`\bAS[0-9]{1,10}\b`),
	},
	{
		Slug:     "mac",
		STIXType: "mac-addr",
		Pattern:  regexp.MustCompile(`\b(?:[0-9a-fA-F]{2}:){5}[0-9a-fA-F]{2}\b`),
	},
	{
		Slug:     "btc_wallet",
		STIXType: "cryptocurrency-wallet",
		Pattern:  regexp.MustCompile(`\b(?:bc1[a-z0-9]{25,62}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
	},
	{
		Slug:     "registry_key",
		STIXType: "windows-registry-key",
		Pattern:  regexp.MustCompile(`\b(?:HKEY_LOCAL_MACHINE|HKEY_CURRENT_USER|HKEY_CLASSES_ROOT|HKEY_USERS|HKLM|HKCU)\\[^\s"'<>]+`),
	},
	{
		Slug:     "phone_number",
		STIXType: "phone-number",
		Pattern:  regexp.MustCompile(`\+[1-9]\d{1,2}[ -]?\d{3}[ -]?\d{3,4}[ -]?\d{3,4}\b`),
	},
}

// ExtractorSlugs lists every available extractor, for profile validation.
func ExtractorSlugs() []string {
	slugs := make([]string, 0, len(extractors))
	for _, e := range extractors {
		slugs = append(slugs, e.Slug)
	}
	sort.Strings(slugs)
	return slugs
}

// KnownExtractor reports whether slug names an available extractor.
func KnownExtractor(slug string) bool {
	for _, e := range extractors {
		if e.Slug == slug {
			return true
		}
	}
	return false
}

var refanger = strings.NewReplacer(
	"[.]", ".", "(.)", ".", "[dot]", ".",
	"[:]", ":", "[@]", "@", "[at]", "@",
	"hxxps", "https", "hXXps", "https",
	"hxxp", "http", "hXXp", "http",
)

// Refang undoes common defanging so defanged indicators still extract.
func Refang(text string) string {
	return refanger.Replace(text)
}

// ApplyAliases rewrites known alias values to their canonical form before
// extraction runs.
func ApplyAliases(text string, aliases []models.AliasRule) string {
	for _, a := range aliases {
		if a.Value == "" || a.Alias == "" {
			continue
		}
		text = strings.ReplaceAll(text, a.Value, a.Alias)
	}
	return text
}

// Extract runs the profile's extractors over the text and returns the
// deduplicated values, whitelisted values removed, in deterministic order.
func Extract(text string, profile *models.Profile) []Extraction {
	if profile.DefangObservables {
		text = Refang(text)
	}
	text = ApplyAliases(text, profile.Aliases)

	whitelisted := make(map[string]bool, len(profile.Whitelists))
	for _, w := range profile.Whitelists {
		whitelisted[strings.ToLower(w)] = true
	}

	wanted := make(map[string]bool, len(profile.Extractions))
	for _, slug := range profile.Extractions {
		wanted[slug] = true
	}

	seen := map[string]bool{}
	var results []Extraction
	for _, ex := range extractors {
		if !wanted[ex.Slug] {
			continue
		}
		for _, match := range ex.Pattern.FindAllString(text, -1) {
			value := normalizeValue(ex, match)
			if ex.Validate != nil && !ex.Validate(value) {
				continue
			}
			if whitelisted[strings.ToLower(value)] {
				continue
			}
			key := ex.STIXType + "|" + value
			if seen[key] {
				continue
			}
			seen[key] = true
			results = append(results, Extraction{
				Extractor: ex.Slug,
				STIXType:  ex.STIXType,
				Value:     value,
			})
		}
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].STIXType != results[j].STIXType {
			return results[i].STIXType < results[j].STIXType
		}
		return results[i].Value < results[j].Value
	})
	return results
}

func normalizeValue(ex Extractor, value string) string {
	switch ex.Slug {
	case "domain", "email":
		return strings.ToLower(value)
	case "md5", "sha1", "sha256":
		return strings.ToLower(value)
	case "url":
		return strings.TrimRight(value, ".,;")
	}
	return value
}

func validIPv4(s string) bool {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return false
	}
	for _, p := range parts {
		if len(p) > 1 && p[0] == '0' {
			return false
		}
		n := 0
		for _, r := range p {
			n = n*10 + int(r-'0')
		}
		if n > 255 {
			return false
		}
	}
	return true
}

// common file suffixes that the domain pattern would otherwise match.
var fileSuffixes = []string{
	".exe", ".dll", ".zip", ".rar", ".doc", ".docx", ".xls", ".xlsx",
	".pdf", ".txt", ".png", ".jpg", ".jpeg", ".gif", ".js", ".py",
	".sh", ".bat", ".ps1", ".html", ".htm", ".php",
}

func validDomain(s string) bool {
	for _, suffix := range fileSuffixes {
		if strings.HasSuffix(s, suffix) {
			return false
		}
	}
	return strings.Count(s, ".") >= 1
}
