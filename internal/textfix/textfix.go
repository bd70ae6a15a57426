// Package textfix repairs badly decoded text before it reaches chunking and
// embedding. It handles mojibake (UTF-8 read as Windows-1252), stray C1
// controls, typographic ligatures and quotes, fullwidth forms, mixed line
// endings and invisible control characters, then normalizes to NFC.
package textfix

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// maxPasses bounds repeated mojibake repair (text can be double-encoded).
const maxPasses = 3

var terminalEscapeRe = regexp.MustCompile("\x1b\\[[0-9;?]*[A-Za-z]")

var ligatures = strings.NewReplacer(
	"ﬀ", "ff",
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
	"ﬅ", "st",
	"ﬆ", "st",
	"Ĳ", "IJ",
	"ĳ", "ij",
	"Ǉ", "LJ",
	"ǈ", "Lj",
	"ǉ", "lj",
	"Ǌ", "NJ",
	"ǋ", "Nj",
	"ǌ", "nj",
)

var curlyQuotes = strings.NewReplacer(
	"‘", "'",
	"’", "'",
	"‚", "'",
	"‛", "'",
	"“", `"`,
	"”", `"`,
	"„", `"`,
	"‟", `"`,
)

var lineBreaks = strings.NewReplacer(
	"\r\n", "\n",
	"\r", "\n",
	"\u2028", "\n",
	"\u2029", "\n",
	"\u0085", "\n",
)

// FixEncoding decodes raw file bytes. Valid UTF-8 is taken as is; anything
// else is read as Windows-1252, a superset of Latin-1 that never fails.
func FixEncoding(raw []byte) string {
	if utf8.Valid(raw) {
		return FixMojibake(string(raw))
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(raw)
	if err != nil {
		decoded, _ = charmap.ISO8859_1.NewDecoder().Bytes(raw)
	}
	return FixMojibake(string(decoded))
}

// FixMojibake undoes UTF-8 text that was decoded as Windows-1252, e.g.
// "cafÃ©" becomes "café". Text that does not round-trip is returned unchanged.
func FixMojibake(s string) string {
	enc := charmap.Windows1252.NewEncoder()
	for range maxPasses {
		if !hasHighLatin(s) {
			return s
		}
		b, err := enc.Bytes([]byte(s))
		if err != nil || !utf8.Valid(b) {
			return s
		}
		fixed := string(b)
		if fixed == s {
			return s
		}
		s = fixed
	}
	return s
}

// FixText applies the full repair chain.
func FixText(s string) string {
	if s == "" {
		return s
	}
	if !strings.Contains(s, "<") {
		s = html.UnescapeString(s)
	}
	s = terminalEscapeRe.ReplaceAllString(s, "")
	s = FixMojibake(s)
	s = fixC1Controls(s)
	s = ligatures.Replace(s)
	s = fixCharacterWidth(s)
	s = curlyQuotes.Replace(s)
	s = lineBreaks.Replace(s)
	s = strings.ToValidUTF8(s, "�")
	s = removeControlChars(s)
	return norm.NFC.String(s)
}

func hasHighLatin(s string) bool {
	for _, r := range s {
		if r >= 0x80 && r <= 0xff {
			return true
		}
		switch r {
		case '€', '‚', 'ƒ', '„', '…', '†', '‡', 'ˆ', '‰', 'Š', '‹', 'Œ', 'Ž',
			'‘', '’', '“', '”', '•', '–', '—', '˜', '™', 'š', '›', 'œ', 'ž', 'Ÿ':
			return true
		}
	}
	return false
}

// fixC1Controls replaces U+0080..U+009F with the Windows-1252 character for
// the same byte. These show up when Latin-1 was assumed instead of 1252.
func fixC1Controls(s string) string {
	if !strings.ContainsFunc(s, isC1) {
		return s
	}
	dec := charmap.Windows1252.NewDecoder()
	return strings.Map(func(r rune) rune {
		if !isC1(r) {
			return r
		}
		out, err := dec.Bytes([]byte{byte(r)})
		if err != nil {
			return r
		}
		fixed, _ := utf8.DecodeRune(out)
		return fixed
	}, s)
}

func isC1(r rune) bool { return r >= 0x80 && r <= 0x9f }

// fixCharacterWidth folds fullwidth ASCII and halfwidth katakana to their
// canonical widths. Other CJK text is left alone.
func fixCharacterWidth(s string) string {
	if !strings.ContainsFunc(s, isWidthVariant) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if isWidthVariant(r) {
			b.WriteString(width.Fold.String(string(r)))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isWidthVariant(r rune) bool {
	return r == 0x3000 || (r >= 0xff00 && r <= 0xffef)
}

func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r <= 0x08, r == 0x0b, r >= 0x0e && r <= 0x1f, r == 0x7f:
			return -1
		case r >= 0x206a && r <= 0x206f:
			return -1
		case r == 0xfeff:
			return -1
		case r >= 0xfff9 && r <= 0xfffc:
			return -1
		case r >= 0x1d173 && r <= 0x1d17a:
			return -1
		case r >= 0xe0000 && r <= 0xe007f:
			return -1
		}
		return r
	}, s)
}
