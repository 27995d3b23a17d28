package enums

import "fmt"

// RestoreRedirect selects where a restored cart lands.
type RestoreRedirect string

const (
	RestoreRedirectCheckout RestoreRedirect = "checkout"
	RestoreRedirectCart     RestoreRedirect = "cart"
)

var validRestoreRedirects = []RestoreRedirect{
	RestoreRedirectCheckout,
	RestoreRedirectCart,
}

// String implements fmt.Stringer.
func (r RestoreRedirect) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RestoreRedirect.
func (r RestoreRedirect) IsValid() bool {
	for _, candidate := range validRestoreRedirects {
		if candidate == r {
			return true
		}
	}
	return false
}

// ParseRestoreRedirect converts raw input into a RestoreRedirect.
func ParseRestoreRedirect(value string) (RestoreRedirect, error) {
	for _, candidate := range validRestoreRedirects {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid restore redirect %q", value)
}
