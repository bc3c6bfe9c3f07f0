package utils

import (
	"fmt"
	"strings"

	"github.com/ttacon/libphonenumber"
)

// NormalizeMsisdn parses a local or international number and returns E.164 digits without '+',
// which is the form MoMo APIs expect (e.g. 260971234567).
func NormalizeMsisdn(phoneNumber, countryCode string) (string, error) {
	raw := strings.TrimSpace(phoneNumber)
	if raw == "" {
		return "", fmt.Errorf("phone number is required")
	}
	// Providers send numbers like 260971234567 without '+'.
	if !strings.HasPrefix(raw, "+") && !strings.HasPrefix(raw, "0") {
		if code := libphonenumber.GetCountryCodeForRegion(strings.ToUpper(countryCode)); code != 0 && strings.HasPrefix(raw, fmt.Sprint(code)) {
			raw = "+" + raw
		}
	}
	p, err := libphonenumber.Parse(raw, strings.ToUpper(countryCode))
	if err != nil {
		return "", err
	}
	if !libphonenumber.IsValidNumber(p) {
		return "", fmt.Errorf("phone number is not valid")
	}
	e164 := libphonenumber.Format(p, libphonenumber.E164)
	return strings.TrimPrefix(e164, "+"), nil
}

// NationalNumber returns the national significant number (e.g. 971234567) of a normalized MSISDN.
func NationalNumber(msisdn, countryCode string) (string, error) {
	raw := msisdn
	if !strings.HasPrefix(raw, "+") {
		raw = "+" + raw
	}
	p, err := libphonenumber.Parse(raw, strings.ToUpper(countryCode))
	if err != nil {
		return "", err
	}
	return libphonenumber.GetNationalSignificantNumber(p), nil
}
