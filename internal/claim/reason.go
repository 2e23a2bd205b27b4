package claim

import "fmt"

// ExitReasonCode enumerates why a worker released a claim.
type ExitReasonCode string

const (
	ReasonStockShortage        ExitReasonCode = "stock_shortage"
	ReasonIncompleteOrder      ExitReasonCode = "incomplete_order"
	ReasonCustomerUnresponsive ExitReasonCode = "customer_unresponsive"
	ReasonCodeError            ExitReasonCode = "code_error"
	ReasonOther                ExitReasonCode = "other"
)

// ExitReason is a tagged exit reason: a fixed code plus free text that is
// required when the code is "other".
type ExitReason struct {
	Code ExitReasonCode `json:"code"`
	Text string         `json:"text,omitempty"`
}

// Validate checks the reason against the fixed enumeration.
func (r ExitReason) Validate() error {
	switch r.Code {
	case ReasonStockShortage, ReasonIncompleteOrder, ReasonCustomerUnresponsive, ReasonCodeError:
		return nil
	case ReasonOther:
		if r.Text == "" {
			return fmt.Errorf("exit reason %q requires a non-empty text", ReasonOther)
		}
		return nil
	default:
		return fmt.Errorf("unknown exit reason code %q", r.Code)
	}
}
