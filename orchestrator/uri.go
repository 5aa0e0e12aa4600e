package orchestrator

import (
	"fmt"
	"net/url"
	"strconv"
)

// BuildPaymentURI renders the BIP21-style URI a QR code embeds, replacing
// the teacher's renderPaymentPage HTML template: the only piece of that
// page's logic still in scope here is producing the URI the caller's own
// page renders into a QR code.
func BuildPaymentURI(address string, amountBTC float64, label, message string) string {
	amount := strconv.FormatFloat(amountBTC, 'f', 8, 64)
	q := url.Values{}
	q.Set("amount", amount)
	if label != "" {
		q.Set("label", label)
	}
	if message != "" {
		q.Set("message", message)
	}
	return fmt.Sprintf("bitcoin:%s?%s", address, q.Encode())
}
