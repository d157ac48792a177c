package reliability

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{408, true},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassOfSurvivesWrapping(t *testing.T) {
	base := errors.New("boom")
	cases := []struct {
		err  error
		want Class
	}{
		{base, ClassTransport},
		{Transport(base), ClassTransport},
		{Content(base), ClassContent},
		{fmt.Errorf("outer: %w", Permanent(base)), ClassPermanent},
	}
	for _, tc := range cases {
		if got := ClassOf(tc.err); got != tc.want {
			t.Fatalf("ClassOf(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
	if !errors.Is(Content(base), base) {
		t.Fatalf("classified error must unwrap to the original")
	}
	if Transport(nil) != nil {
		t.Fatalf("Transport(nil) must be nil")
	}
}
