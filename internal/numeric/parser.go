// Package numeric parses numeric strings from the upstream price feed, which
// mixes ASCII and full-width signs, Unicode spaces and thousands separators.
package numeric

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/bobmcallan/stocksync/internal/common"
)

// signs stripped from every value: ASCII plus/minus, MINUS SIGN, full-width plus/minus
var signReplacer = strings.NewReplacer("+", "", "-", "", "\u2212", "", "\uFF0B", "", "\uFF0D", "")

// thousands separators: ASCII and full-width comma
var separatorReplacer = strings.NewReplacer(",", "", "\uFF0C", "")

// Parser decodes upstream numeric strings. Every method returns ok=false
// instead of an error; failures are logged with a code-point dump of the input.
type Parser struct {
	logger *common.Logger
	code   string
	date   string
}

// NewParser creates a Parser that logs failures to logger.
func NewParser(logger *common.Logger) *Parser {
	if logger == nil {
		logger = common.NewSilentLogger()
	}
	return &Parser{logger: logger}
}

// For returns a copy of the parser whose failure logs carry the stock code and row date.
func (p *Parser) For(code, date string) *Parser {
	return &Parser{logger: p.logger, code: code, date: date}
}

// ParseInteger parses a 32-bit integer, stripping spaces, signs and separators.
// If the cleaned string still does not parse, only its digits are kept.
func (p *Parser) ParseInteger(raw string) (int, bool) {
	s := sanitize(raw)
	if v, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(v), true
	}
	if v, err := strconv.ParseInt(digitsOnly(s), 10, 32); err == nil {
		return int(v), true
	}
	p.logFailure("integer", raw, s)
	return 0, false
}

// ParseNonNegativeInteger behaves like ParseInteger but rejects any dash-like
// character that survives sign stripping. Low prices are never negative, so a
// stray dash means the value cannot be trusted.
func (p *Parser) ParseNonNegativeInteger(raw string) (int, bool) {
	s := sanitize(raw)
	if strings.IndexFunc(s, isDashLike) >= 0 {
		p.logFailure("non-negative integer", raw, s)
		return 0, false
	}
	return p.ParseInteger(raw)
}

// ParseLong parses a 64-bit integer with the same rules as ParseInteger.
func (p *Parser) ParseLong(raw string) (int64, bool) {
	s := sanitize(raw)
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		return v, true
	}
	if v, err := strconv.ParseInt(digitsOnly(s), 10, 64); err == nil {
		return v, true
	}
	p.logFailure("long", raw, s)
	return 0, false
}

// ParseDouble parses a decimal value. The fallback keeps digits and the first
// decimal point.
func (p *Parser) ParseDouble(raw string) (float64, bool) {
	s := sanitize(raw)
	if d, err := decimal.NewFromString(s); err == nil {
		return d.InexactFloat64(), true
	}
	if d, err := decimal.NewFromString(digitsAndPoint(s)); err == nil {
		return d.InexactFloat64(), true
	}
	p.logFailure("double", raw, s)
	return 0, false
}

func (p *Parser) logFailure(kind, raw, sanitized string) {
	p.logger.Warn().
		Str("kind", kind).
		Str("stock_code", p.code).
		Str("date", p.date).
		Str("raw", raw).
		Str("raw_cp", CodePoints(raw)).
		Str("sanitized", sanitized).
		Str("sanitized_cp", CodePoints(sanitized)).
		Msg("Failed to parse upstream number")
}

// sanitize removes Unicode space separators, whitespace, signs and thousands
// separators, and folds full-width digits to ASCII.
func sanitize(raw string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.Zs, r), unicode.IsSpace(r):
			return -1
		case r >= '\uFF10' && r <= '\uFF19':
			return '0' + (r - '\uFF10')
		}
		return r
	}, raw)
	s = signReplacer.Replace(s)
	return separatorReplacer.Replace(s)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsAndPoint(s string) string {
	var b strings.Builder
	seenPoint := false
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case (r == '.' || r == '\uFF0E') && !seenPoint:
			seenPoint = true
			b.WriteRune('.')
		}
	}
	return b.String()
}

// isDashLike matches dash characters not removed by sanitize: hyphen through
// horizontal bar, small em dash and small hyphen-minus.
func isDashLike(r rune) bool {
	return (r >= '\u2010' && r <= '\u2015') || r == '\uFE58' || r == '\uFE63'
}

// CodePoints renders s as "[index U+XXXX 'c']" groups for diagnostics.
func CodePoints(s string) string {
	var b strings.Builder
	i := 0
	for _, r := range s {
		fmt.Fprintf(&b, "[%d U+%04X '%c']", i, r, r)
		i++
	}
	return b.String()
}
