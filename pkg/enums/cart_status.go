package enums

import "fmt"

// CartStatus is the stored lifecycle state of a cart record.
type CartStatus string

const (
	CartStatusActive    CartStatus = "active"
	CartStatusAbandoned CartStatus = "abandoned"
	CartStatusRecovered CartStatus = "recovered"
	CartStatusExpired   CartStatus = "expired"
)

var validCartStatuses = []CartStatus{
	CartStatusActive,
	CartStatusAbandoned,
	CartStatusRecovered,
	CartStatusExpired,
}

// String implements fmt.Stringer.
func (c CartStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CartStatus.
func (c CartStatus) IsValid() bool {
	for _, candidate := range validCartStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no scheduler transition may leave this status.
func (c CartStatus) IsTerminal() bool {
	return c == CartStatusRecovered || c == CartStatusExpired
}

// ParseCartStatus converts raw input into a CartStatus.
func ParseCartStatus(value string) (CartStatus, error) {
	for _, candidate := range validCartStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid cart status %q", value)
}

// CartDisplayStatus is the label shown on reporting views. It is a projection
// over the stored status and never persisted.
type CartDisplayStatus string

const (
	CartDisplayActive       CartDisplayStatus = "active"
	CartDisplayAbandoned    CartDisplayStatus = "abandoned"
	CartDisplayRecovered    CartDisplayStatus = "recovered"
	CartDisplayExpired      CartDisplayStatus = "expired"
	CartDisplayOrderCreated CartDisplayStatus = "order_created"
)
