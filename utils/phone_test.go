package utils

import "testing"

func TestNormalizeMsisdn(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"0971234567", "260971234567", false},
		{"+260971234567", "260971234567", false},
		{"260961234567", "260961234567", false},
		{" 0951234567 ", "260951234567", false},
		{"", "", true},
		{"12", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeMsisdn(tc.in, "ZM")
		if tc.wantErr {
			if err == nil {
				t.Fatalf("NormalizeMsisdn(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Fatalf("NormalizeMsisdn(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("NormalizeMsisdn(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNationalNumber(t *testing.T) {
	got, err := NationalNumber("260971234567", "ZM")
	if err != nil {
		t.Fatalf("NationalNumber: %v", err)
	}
	if got != "971234567" {
		t.Fatalf("got %q", got)
	}
}
