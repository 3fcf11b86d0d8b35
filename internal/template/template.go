package template

import "regexp"

var tokenRe = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// Render substitutes every {{key}} occurrence with data[key]. Tokens whose
// key is absent are left verbatim rather than erroring: a missing variable
// must not corrupt the rest of the message or abort a send.
func Render(tpl string, data map[string]string) string {
	return tokenRe.ReplaceAllStringFunc(tpl, func(tok string) string {
		key := tokenRe.FindStringSubmatch(tok)[1]
		if v, ok := data[key]; ok {
			return v
		}
		return tok
	})
}

// ExtractVariables returns the distinct token keys referenced by a template,
// in first-occurrence order. Used by preview tooling to validate templates.
func ExtractVariables(tpl string) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, m := range tokenRe.FindAllStringSubmatch(tpl, -1) {
		if _, ok := seen[m[1]]; ok {
			continue
		}
		seen[m[1]] = struct{}{}
		keys = append(keys, m[1])
	}
	return keys
}
