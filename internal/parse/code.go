package parse

import (
	"fmt"
	"regexp"
	"strings"
)

// Code schemes recognized on scanned labels.
const (
	SchemeEAN13 = "ean13"
	SchemeEAN8  = "ean8"
	SchemeUPCA  = "upca"
	SchemeSKU   = "sku"
	SchemeRaw   = "raw"
)

// ParsedCode is a scanned identity code normalized to a scheme.
type ParsedCode struct {
	Scheme string
	Code   string
}

var (
	digitsRe = regexp.MustCompile(`^\d+$`)
	skuRe    = regexp.MustCompile(`^SKU-[A-Z0-9-]{3,}$`)
)

// ParseCode normalizes a raw scanner payload. Whitespace is stripped and
// digit-only payloads are classified by length with a checksum validation
// for EAN/UPC. Anything unrecognized stays usable under the raw scheme.
func ParseCode(raw string) (ParsedCode, error) {
	code := strings.TrimSpace(raw)
	if code == "" {
		return ParsedCode{}, fmt.Errorf("empty code")
	}

	upper := strings.ToUpper(code)
	if skuRe.MatchString(upper) {
		return ParsedCode{Scheme: SchemeSKU, Code: upper}, nil
	}

	if digitsRe.MatchString(code) {
		switch len(code) {
		case 13:
			if !validChecksum(code) {
				return ParsedCode{}, fmt.Errorf("invalid EAN-13 checksum in %q", code)
			}
			return ParsedCode{Scheme: SchemeEAN13, Code: code}, nil
		case 12:
			if !validChecksum(code) {
				return ParsedCode{}, fmt.Errorf("invalid UPC-A checksum in %q", code)
			}
			return ParsedCode{Scheme: SchemeUPCA, Code: code}, nil
		case 8:
			if !validChecksum(code) {
				return ParsedCode{}, fmt.Errorf("invalid EAN-8 checksum in %q", code)
			}
			return ParsedCode{Scheme: SchemeEAN8, Code: code}, nil
		}
	}

	return ParsedCode{Scheme: SchemeRaw, Code: code}, nil
}

// validChecksum verifies the GS1 modulo-10 check digit shared by EAN-8,
// UPC-A and EAN-13.
func validChecksum(code string) bool {
	sum := 0
	// Weights alternate 3,1 from the rightmost digit before the check digit.
	weight := 3
	for i := len(code) - 2; i >= 0; i-- {
		sum += int(code[i]-'0') * weight
		if weight == 3 {
			weight = 1
		} else {
			weight = 3
		}
	}
	check := (10 - sum%10) % 10
	return check == int(code[len(code)-1]-'0')
}
