package command

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/karpov-sv/etp/errors"
)

const lexWhitespace = " \t\r\n"

// splitWords tokenizes s the way a POSIX shell splits words: whitespace
// separates tokens, single quotes are literal, double quotes allow \" and \\
// escapes, and an unquoted backslash escapes any character. Adjacent quoted
// and unquoted pieces join into one token; "" yields an empty token.
func splitWords(s string) ([]string, error) {
	var (
		tokens  []string
		current strings.Builder
		inToken bool
		quote   rune
		escaped bool
	)

	for _, r := range s {
		switch {
		case escaped:
			if quote == '"' && r != '"' && r != '\\' {
				current.WriteByte('\\')
			}
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case quote == '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				escaped = true
			default:
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inToken = true
		case r == '"' || r == '\'':
			quote = r
			inToken = true
		case strings.ContainsRune(lexWhitespace, r):
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}

	if escaped {
		return nil, fmt.Errorf("%w: no escaped character", errors.ErrParsingFailed)
	}
	if quote != 0 {
		return nil, fmt.Errorf("%w: no closing quotation", errors.ErrParsingFailed)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	return tokens, nil
}

// quoteWord returns s in a form splitWords reads back as the single token s.
func quoteWord(s string) string {
	if s == "" {
		return `""`
	}
	if !strings.ContainsFunc(s, needsQuote) {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
}

func needsQuote(r rune) bool {
	return r == '"' || r == '\\' || r == '\'' || unicode.IsSpace(r)
}
