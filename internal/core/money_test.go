package core

import "testing"

func TestParseYen(t *testing.T) {
	cases := []struct {
		in  string
		out Yen
		ok  bool
	}{
		{"1", 1, true},
		{"12000", 12000, true},
		{"12,000", 12000, true},
		{"¥12,000", 12000, true},
		{"￥15000", 15000, true},
		{" 1,234,567 ", 1234567, true},
		{"0", 0, true},
		{"¥0", 0, true},
		{"-1", 0, false},
		{"+1", 0, false},
		{"12.5", 0, false},
		{"abc", 0, false},
		{"１２", 0, false}, // full-width digits
		{"", 0, false},
		{"¥", 0, false},
		{"99999999999999999999", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseYen(tc.in)
		if tc.ok {
			if err != nil || got != tc.out {
				t.Fatalf("%q expected %d, got %d (err=%v)", tc.in, tc.out, got, err)
			}
		} else {
			if err == nil {
				t.Fatalf("%q expected error", tc.in)
			}
		}
	}
}

func TestYenValidate(t *testing.T) {
	if err := Yen(1).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := Yen(0).Validate(); err != nil {
		t.Fatalf("zero is a valid amount, got %v", err)
	}
	if err := Yen(-5).Validate(); err != ErrInvalidAmount {
		t.Fatalf("expected ErrInvalidAmount for negative, got %v", err)
	}
}
