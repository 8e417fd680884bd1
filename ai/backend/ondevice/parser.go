package ondevice

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hrygo/fincue/ai/backend"
)

var errNoAmount = errors.New("no amount found")

// Pre-compiled patterns for transaction extraction.
var (
	isoDatePattern  = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2})\b`)
	amountPattern   = regexp.MustCompile(`(?i)([$€£¥])?\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)\s*(usd|eur|gbp|jpy|cny|rmb|dollars?|bucks|euros?|pounds?|yen|yuan|元|块)?`)
	merchantPattern = regexp.MustCompile(`(?:\bat|\bfrom|@)\s+([A-Z][\w'&.-]*(?:\s+[A-Z][\w'&.-]*)*)`)
)

var currencySymbols = map[string]string{
	"$": "USD",
	"€": "EUR",
	"£": "GBP",
	"¥": "JPY",
}

var currencyWords = map[string]string{
	"usd": "USD", "dollar": "USD", "dollars": "USD", "bucks": "USD",
	"eur": "EUR", "euro": "EUR", "euros": "EUR",
	"gbp": "GBP", "pound": "GBP", "pounds": "GBP",
	"jpy": "JPY", "yen": "JPY",
	"cny": "CNY", "rmb": "CNY", "yuan": "CNY", "元": "CNY", "块": "CNY",
}

var incomeKeywords = []string{
	"salary", "paycheck", "bonus", "refund", "reimbursement", "income", "deposit",
	"received", "got paid", "paid me", "dividend", "工资", "收入", "收到", "奖金",
}

type categoryRule struct {
	category string
	keywords []string
}

// Checked in order; first match wins.
var categoryRules = []categoryRule{
	{"income", []string{"salary", "paycheck", "bonus", "dividend", "工资", "奖金"}},
	{"food", []string{"coffee", "lunch", "dinner", "breakfast", "restaurant", "cafe", "pizza", "burger", "sushi", "snack", "tea", "starbucks", "mcdonald", "午饭", "晚饭", "咖啡"}},
	{"groceries", []string{"groceries", "grocery", "supermarket", "market", "walmart", "costco", "aldi", "超市"}},
	{"transport", []string{"uber", "lyft", "taxi", "bus", "train", "metro", "subway", "fuel", "gas", "petrol", "parking", "toll", "flight", "打车", "地铁"}},
	{"housing", []string{"rent", "mortgage", "房租"}},
	{"utilities", []string{"electricity", "electric", "water bill", "internet", "phone bill", "utility", "utilities", "水电"}},
	{"health", []string{"pharmacy", "doctor", "dentist", "hospital", "medicine", "gym", "医院", "药"}},
	{"entertainment", []string{"movie", "cinema", "netflix", "spotify", "concert", "game", "tickets", "电影"}},
	{"shopping", []string{"amazon", "clothes", "shoes", "shirt", "electronics", "mall", "购物"}},
}

// Parser is the rule-based on-device transaction extractor.
type Parser struct {
	// DefaultCurrency is used when the text names no currency.
	DefaultCurrency string
	now             func() time.Time
}

// NewParser creates a parser defaulting to USD.
func NewParser() *Parser {
	return &Parser{DefaultCurrency: "USD", now: time.Now}
}

// Parse extracts a transaction and a self-assessed confidence from text.
func (p *Parser) Parse(text string) (backend.ParsedTransaction, float64, error) {
	text = strings.TrimSpace(text)
	lower := strings.ToLower(text)
	tx := backend.ParsedTransaction{
		Description: text,
		Type:        backend.TransactionExpense,
	}

	confidence := 0.3

	date, rest := p.extractDate(text, lower)
	if date != nil {
		tx.Date = date
		confidence += 0.05
	}

	amount, currency, ok := extractAmount(rest)
	if !ok {
		return tx, 0, errNoAmount
	}
	tx.Amount = amount
	confidence += 0.35
	if currency != "" {
		tx.Currency = currency
		confidence += 0.05
	} else {
		tx.Currency = p.DefaultCurrency
	}

	if m := merchantPattern.FindStringSubmatch(text); m != nil {
		tx.Merchant = strings.TrimRight(m[1], ".")
		confidence += 0.1
	}

	if category := matchCategory(lower); category != "" {
		tx.Category = category
		confidence += 0.15
	}

	for _, kw := range incomeKeywords {
		if strings.Contains(lower, kw) {
			tx.Type = backend.TransactionIncome
			break
		}
	}

	return tx, min(confidence, 1.0), nil
}

// extractDate returns the date named in text and the text with that date removed,
// so its digits are not mistaken for an amount.
func (p *Parser) extractDate(text, lower string) (*time.Time, string) {
	if loc := isoDatePattern.FindStringSubmatchIndex(text); loc != nil {
		if t, err := time.Parse("2006-01-02", text[loc[2]:loc[3]]); err == nil {
			return &t, text[:loc[0]] + text[loc[1]:]
		}
	}
	today := p.now()
	day := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	switch {
	case strings.Contains(lower, "yesterday"), strings.Contains(lower, "昨天"):
		d := day.AddDate(0, 0, -1)
		return &d, text
	case strings.Contains(lower, "today"), strings.Contains(lower, "今天"):
		return &day, text
	}
	return nil, text
}

// extractAmount prefers a number carrying a currency marker over a bare number.
func extractAmount(text string) (float64, string, bool) {
	var (
		bare    float64
		hasBare bool
	)
	for _, m := range amountPattern.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil || v <= 0 {
			continue
		}
		if code, ok := currencySymbols[m[1]]; ok {
			return v, code, true
		}
		if code, ok := currencyWords[strings.ToLower(m[3])]; ok {
			return v, code, true
		}
		if !hasBare {
			bare, hasBare = v, true
		}
	}
	return bare, "", hasBare
}

func matchCategory(lower string) string {
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if containsWord(lower, kw) {
				return rule.category
			}
		}
	}
	return ""
}

// containsWord matches ASCII keywords on word boundaries and other scripts by substring.
func containsWord(s, kw string) bool {
	if kw == "" {
		return false
	}
	if kw[0] >= 0x80 {
		return strings.Contains(s, kw)
	}
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		start, end := i+j, i+j+len(kw)
		if (start == 0 || !isWordByte(s[start-1])) && (end == len(s) || !isWordByte(s[end]) || s[end] == 's') {
			return true
		}
		i = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
