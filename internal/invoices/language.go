package invoices

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLanguage is used when neither the request nor the order names a language.
const DefaultLanguage = "en"

var (
	supportedTags = []language.Tag{language.English, language.Japanese}
	matcher       = language.NewMatcher(supportedTags)
)

func init() {
	ja := language.Japanese
	for key, value := range map[string]string{
		"Invoice":      "請求書",
		"Order number": "注文番号",
		"Issued":       "発行日",
		"Bill to":      "請求先",
		"Deliver to":   "お届け先",
		"Item":         "商品",
		"SKU":          "SKU",
		"Quantity":     "数量",
		"Unit price":   "単価",
		"Amount":       "金額",
		"Subtotal":     "小計",
		"Tax":          "税",
		"Shipping":     "送料",
		"Discount":     "値引き",
		"Total":        "合計",
		"Paid":         "支払済み",
		"Notes":        "備考",
	} {
		_ = message.SetString(ja, key, value)
	}
}

// ValidLanguage reports whether raw parses as a BCP 47 tag. Empty input is valid and means "unspecified".
func ValidLanguage(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	_, err := language.Parse(raw)
	return err == nil
}

// ResolveLanguage picks the first non-empty candidate and matches it against the supported invoice
// languages, falling back to English.
func ResolveLanguage(candidates ...string) string {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		tag, err := language.Parse(candidate)
		if err != nil {
			continue
		}
		_, index, confidence := matcher.Match(tag)
		if confidence == language.No {
			return DefaultLanguage
		}
		base, _ := supportedTags[index].Base()
		return base.String()
	}
	return DefaultLanguage
}
