package queue

import "testing"

func TestNormalizePhone(t *testing.T) {
	valid := []struct{ in, want string }{
		{"0812345678", "0812345678"},
		{"081-234-5678", "0812345678"},
		{"081 234 5678", "0812345678"},
		{"(081) 234.5678", "0812345678"},
		{"+66812345678", "0812345678"},
		{"+66 81 234 5678", "0812345678"},
	}
	for _, tc := range valid {
		got, err := NormalizePhone(tc.in)
		if err != nil {
			t.Errorf("NormalizePhone(%q) error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	invalid := []string{"", "12345", "08123456789", "081234567x", "+66 12 34"}
	for _, in := range invalid {
		if _, err := NormalizePhone(in); err == nil {
			t.Errorf("NormalizePhone(%q) should fail", in)
		} else if !IsKind(err, KindValidation) {
			t.Errorf("NormalizePhone(%q) kind = %s", in, KindOf(err))
		}
	}
}

func TestNormalizeName(t *testing.T) {
	got, err := NormalizeName("name", "  Leo  ")
	if err != nil {
		t.Fatalf("NormalizeName: %v", err)
	}
	if got != "Leo" {
		t.Errorf("got %q", got)
	}

	for _, in := range []string{"", " ", "A"} {
		if _, err := NormalizeName("name", in); !IsKind(err, KindValidation) {
			t.Errorf("NormalizeName(%q) should be a validation error, got %v", in, err)
		}
	}
}
