package retriever

import (
	"regexp"
	"strings"
)

const quoteChars = `"'“”‘’`

var (
	quotedPDFRe = regexp.MustCompile(`[` + quoteChars + `]([^` + quoteChars + `]+?\.(?i:pdf))[` + quoteChars + `]`)
	quotedRe    = regexp.MustCompile(`[` + quoteChars + `]([^` + quoteChars + `]+)[` + quoteChars + `]`)
	barePDFRe   = regexp.MustCompile(`(?i)([\p{L}\p{N}_.\-]+\.pdf)\b`)
)

// ExtractDocumentRef returns the document a message explicitly names, or ""
// when it names none. A quoted .pdf name wins over any quoted string, which
// wins over a bare .pdf token.
func ExtractDocumentRef(text string) string {
	for _, re := range []*regexp.Regexp{quotedPDFRe, quotedRe, barePDFRe} {
		if m := re.FindStringSubmatch(text); m != nil {
			if ref := strings.TrimSpace(m[1]); ref != "" {
				return ref
			}
		}
	}
	return ""
}
