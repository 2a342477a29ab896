package address

import (
	"fmt"
	"regexp"
	"strings"
)

// keyRegex restricts element keys; values are free-form apart from '/'.
var keyRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

func validateElement(e Element) error {
	if !keyRegex.MatchString(e.Key) {
		return fmt.Errorf("invalid element key %q", e.Key)
	}
	if e.Value == "" {
		return fmt.Errorf("element %q has an empty value", e.Key)
	}
	if strings.ContainsRune(e.Value, '/') {
		return fmt.Errorf("element value %q must not contain '/'", e.Value)
	}
	return nil
}

// Parse creates an Address from its canonical string representation. A
// leading slash is optional; "" and "/" both denote the root. Wildcard values
// are accepted; call Validate to reject them.
func Parse(raw string) (Address, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return Root(), nil
	}

	parts := strings.Split(trimmed, "/")
	elems := make([]Element, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			return Address{}, fmt.Errorf("address %q contains an empty element", raw)
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return Address{}, fmt.Errorf("address %q: element %q is not in key=value form", raw, part)
		}
		e := Element{Key: key, Value: value}
		if err := validateElement(e); err != nil {
			return Address{}, fmt.Errorf("address %q: %w", raw, err)
		}
		elems = append(elems, e)
	}
	return Address{elems: elems}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// static registration patterns.
func MustParse(raw string) Address {
	a, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return a
}
