package services

import (
	"testing"
	"time"
)

func TestBarcodeGeneratorFormat(t *testing.T) {
	now := time.UnixMilli(1_712_345_678_901)
	gen, err := NewBarcodeGenerator(BarcodeGeneratorDeps{
		Clock:  func() time.Time { return now },
		Random: func(int) int { return 42 },
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}

	got := gen.Generate()
	want := "20" + "2345678901" + "0042"
	if got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if len(got) != 16 {
		t.Fatalf("expected 16 digits, got %d", len(got))
	}
}

func TestBarcodeGeneratorCustomPrefix(t *testing.T) {
	gen, err := NewBarcodeGenerator(BarcodeGeneratorDeps{
		Prefix: "31",
		Clock:  func() time.Time { return time.UnixMilli(5) },
		Random: func(int) int { return 9999 },
	})
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if got := gen.Generate(); got != "3100000000059999" {
		t.Fatalf("unexpected barcode %s", got)
	}
}

func TestBarcodeGeneratorRejectsBadPrefix(t *testing.T) {
	for _, prefix := range []string{"2", "2a", "201"} {
		if _, err := NewBarcodeGenerator(BarcodeGeneratorDeps{Prefix: prefix}); err == nil {
			t.Fatalf("expected prefix %q to be rejected", prefix)
		}
	}
}
