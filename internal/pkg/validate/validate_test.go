package validate

import "testing"

func TestRequired(t *testing.T) {
	if Required("   ") {
		t.Fatalf("whitespace must not satisfy Required")
	}
	if !Required(" x ") {
		t.Fatalf("non-blank value must satisfy Required")
	}
}

func TestMinLenCountsRunes(t *testing.T) {
	if !MinLen("입금자명이 일치하지 않습니다", 10) {
		t.Fatalf("a ten-character reason must pass regardless of byte length")
	}
	if MinLen("too short", 10) {
		t.Fatalf("nine characters must not pass a minimum of ten")
	}
	if MinLen("  padded  ", 8) {
		t.Fatalf("surrounding whitespace must not count toward the minimum")
	}
}
