package partition

import (
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	cases := []struct {
		in      string
		want    Address
		logical bool
	}{
		{"1", Address{Primary: 1}, false},
		{"4", Address{Primary: 4}, false},
		{"4:1", Address{Primary: 4, Logical: 1, HasLogical: true}, true},
		{"2:10", Address{Primary: 2, Logical: 10, HasLogical: true}, true},
		{"4:0", Address{Primary: 4, Logical: 0, HasLogical: true}, false},
		{"007", Address{Primary: 7}, false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseAddress(tc.in)
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", tc.in, err)
			}
			if got != tc.want {
				t.Fatalf("ParseAddress(%q)=%+v want %+v", tc.in, got, tc.want)
			}
			if got.IsLogical() != tc.logical {
				t.Fatalf("IsLogical()=%v want %v", got.IsLogical(), tc.logical)
			}
		})
	}
}

func TestParseAddressInvalid(t *testing.T) {
	for _, in := range []string{"", "1:2:3", "abc", "1:x", "1:", ":1", "-1", "+1", " 1", "1.5", "99999999999999999999"} {
		if _, err := ParseAddress(in); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseAddress(%q): expected ErrInvalidAddress, got %v", in, err)
		}
	}
}

func TestAddressString(t *testing.T) {
	for _, in := range []string{"1", "3", "4:1", "4:2", "4:0"} {
		addr := MustParseAddress(in)
		if addr.String() != in {
			t.Errorf("String()=%q want %q", addr.String(), in)
		}
		again, err := ParseAddress(addr.String())
		if err != nil || again != addr {
			t.Errorf("round trip of %q gave %+v, %v", in, again, err)
		}
	}
	if got := MustParseAddress("04:01").String(); got != "4:1" {
		t.Errorf("canonical form of 04:01 is %q", got)
	}
}

func TestMustParseAddressPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	MustParseAddress("x")
}

func TestAddressTarget(t *testing.T) {
	cases := []struct {
		a, b string
		same bool
	}{
		{"1", "1:0", true},
		{"01", "1:00", true},
		{"4:1", "04:01", true},
		{"4", "4:1", false},
		{"4:1", "4:2", false},
	}
	for _, tc := range cases {
		got := MustParseAddress(tc.a).Target() == MustParseAddress(tc.b).Target()
		if got != tc.same {
			t.Errorf("%s and %s: same target=%v want %v", tc.a, tc.b, got, tc.same)
		}
	}
}
