// Package payment reconciles a payment gateway's redirect outcome with the
// user's subscription record.
package payment

import (
	"net/url"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
)

// Redirect query parameter names
const (
	ParamSuccess         = "success"
	ParamTxnResponseCode = "txn_response_code"
	ParamMessage         = "data.message"
	ParamMerchantOrderID = "merchant_order_id"
)

var redirectParams = []string{ParamSuccess, ParamTxnResponseCode, ParamMessage, ParamMerchantOrderID}

// ParseRedirect reads the gateway's redirect contract from query values
func ParseRedirect(values url.Values) billing.Redirect {
	return billing.Redirect{
		Success:         values.Get(ParamSuccess),
		TxnResponseCode: values.Get(ParamTxnResponseCode),
		Message:         values.Get(ParamMessage),
		MerchantOrderID: values.Get(ParamMerchantOrderID),
	}
}

// HasParams reports whether any redirect parameter is present
func HasParams(values url.Values) bool {
	for _, p := range redirectParams {
		if _, ok := values[p]; ok {
			return true
		}
	}
	return false
}

// StripParams returns a copy of values without the redirect parameters
func StripParams(values url.Values) url.Values {
	out := make(url.Values, len(values))
	for k, v := range values {
		out[k] = append([]string(nil), v...)
	}
	for _, p := range redirectParams {
		out.Del(p)
	}
	return out
}

// Verify reports whether the redirect carries the three approved literals.
// This is a fast path only: the parameters are forgeable, so commits made
// from it should be backed by a billing.Verifier or the server-side endpoint.
func Verify(values url.Values) bool {
	return ParseRedirect(values).Approved()
}
