package builder

import (
	"strings"
	"unicode"
)

// labelPunct is stripped from labels so one type does not split into
// several spellings.
const labelPunct = `()（）[]{}【】<>《》"'“”‘’.,，。;；:：!?！？/\|·•`

const maxLabelRunes = 32

// normalizeLabel collapses a raw label to a canonical short form:
// whitespace, separators, and punctuation removed, capped at 32 runes.
// Empty input normalizes to unknownLabel.
func normalizeLabel(raw, unknownLabel string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(raw) {
		if unicode.IsSpace(r) || r == '-' || r == '_' || strings.ContainsRune(labelPunct, r) {
			continue
		}
		b.WriteRune(r)
	}
	s := b.String()
	if s == "" {
		return unknownLabel
	}
	runes := []rune(s)
	if len(runes) > maxLabelRunes {
		s = string(runes[:maxLabelRunes])
	}
	return s
}

// canonicalLabel normalizes then applies the ontology: aliases map to
// their targets, and when an allowlist is configured anything outside it
// becomes the unknown label.
func (b *Builder) canonicalLabel(raw string) string {
	label := normalizeLabel(raw, b.opts.UnknownLabel)
	if alias, ok := b.opts.LabelAliases[label]; ok {
		label = alias
	}
	if len(b.opts.LabelAllowlist) > 0 && label != b.opts.UnknownLabel {
		allowed := false
		for _, a := range b.opts.LabelAllowlist {
			if a == label {
				allowed = true
				break
			}
		}
		if !allowed {
			label = b.opts.UnknownLabel
		}
	}
	return label
}
