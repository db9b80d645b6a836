package payments

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// LinkOptions describes a payment to open in a provider's app or site
type LinkOptions struct {
	Recipient string
	Amount    float64
	Currency  string
	Note      string
	// Charge requests money instead of paying, venmo only
	Charge bool
}

// PaymentLink builds the web link that opens a payment on p
func PaymentLink(p Platform, o LinkOptions) (string, error) {
	if o.Recipient == "" {
		return "", fmt.Errorf("payment link needs a recipient")
	}
	amount := strconv.FormatFloat(o.Amount, 'f', -1, 64)

	switch p {
	case CashApp:
		link := "https://cash.app/$" + url.PathEscape(o.Recipient)
		if o.Amount > 0 {
			link += "/" + amount
		}
		if o.Note != "" {
			link += "?note=" + escapeNote(o.Note)
		}
		return link, nil

	case Venmo:
		txn := "pay"
		if o.Charge {
			txn = "charge"
		}
		var params []string
		if o.Amount > 0 {
			params = append(params, "amount="+amount)
		}
		if o.Note != "" {
			params = append(params, "note="+escapeNote(o.Note))
		}
		params = append(params, "txn="+txn)
		return "https://venmo.com/" + url.PathEscape(o.Recipient) + "?" + strings.Join(params, "&"), nil

	case PayPal:
		currency := o.Currency
		if currency == "" {
			currency = "USD"
		}
		link := "https://www.paypal.com/paypalme/" + url.PathEscape(o.Recipient)
		if o.Amount > 0 {
			link += "/" + amount + currency
		}
		if o.Note != "" {
			link += "?note=" + escapeNote(o.Note)
		}
		return link, nil

	default:
		return "", fmt.Errorf("unknown platform %q", p)
	}
}

// DeepLink rewrites a web payment link into the provider's app scheme
func DeepLink(p Platform, link string) string {
	switch p {
	case CashApp:
		return strings.Replace(link, "https://cash.app", "cashapp://", 1)
	case Venmo:
		return strings.Replace(link, "https://venmo.com", "venmo://", 1)
	case PayPal:
		return strings.Replace(link, "https://www.paypal.com", "paypal://", 1)
	default:
		return link
	}
}

// escapeNote percent-encodes spaces as %20 rather than +
func escapeNote(note string) string {
	return strings.ReplaceAll(url.QueryEscape(note), "+", "%20")
}
