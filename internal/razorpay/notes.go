package razorpay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Note keys written by the checkout flow.
const (
	NoteUserID        = "userId"
	NoteUserEmail     = "userEmail"
	NoteUserName      = "userName"
	NoteCustomerEmail = "customerEmail"
	NoteCustomerName  = "customerName"
	NotePlanType      = "planType"
	NoteBillingCycle  = "billingCycle"
	NoteDisplayAmount = "displayAmount"
)

// Notes holds the free-form key/value metadata Razorpay echoes back on
// entities. Razorpay sends an empty JSON array instead of an object when no
// notes were set, and values may be strings or numbers.
type Notes map[string]string

func (n *Notes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*n = Notes{}
		return nil
	}
	if trimmed[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("notes: %w", err)
		}
		*n = Notes{}
		return nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return fmt.Errorf("notes: %w", err)
	}

	out := make(Notes, len(raw))
	for k, v := range raw {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[k] = s
			continue
		}
		var num json.Number
		if err := json.Unmarshal(v, &num); err == nil {
			out[k] = num.String()
			continue
		}
		// Nested values are kept verbatim; nothing downstream reads them.
		out[k] = string(v)
	}
	*n = out
	return nil
}

// Get returns the trimmed value for key, or "".
func (n Notes) Get(key string) string {
	if n == nil {
		return ""
	}
	return strings.TrimSpace(n[key])
}

// First returns the first non-empty value among keys.
func (n Notes) First(keys ...string) string {
	for _, k := range keys {
		if v := n.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// Email is the payer email as written by checkout.
func (n Notes) Email() string {
	return strings.ToLower(n.First(NoteUserEmail, NoteCustomerEmail))
}

func (n Notes) Name() string {
	return n.First(NoteUserName, NoteCustomerName)
}

func (n Notes) JSON() []byte {
	if len(n) == 0 {
		return []byte("{}")
	}
	b, err := json.Marshal(map[string]string(n))
	if err != nil {
		return []byte("{}")
	}
	return b
}
