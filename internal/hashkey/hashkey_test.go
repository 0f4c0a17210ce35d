package hashkey

import "testing"

func TestOrderHashDeterministic(t *testing.T) {
	a := OrderHash("token-1", []string{"oz/1", "wb/2"})
	b := OrderHash("token-1", []string{"wb/2", "oz/1"})
	if a != b {
		t.Fatalf("expected order-independent hash, got %q vs %q", a, b)
	}
}

func TestOrderHashDedupesDuplicates(t *testing.T) {
	a := OrderHash("token-1", []string{"oz/1", "oz/1", "wb/2"})
	b := OrderHash("token-1", []string{"oz/1", "wb/2"})
	if a != b {
		t.Fatalf("expected duplicate product keys to collapse, got %q vs %q", a, b)
	}
}

func TestOrderHashSeparatesTokens(t *testing.T) {
	a := OrderHash("token-1", []string{"oz/1"})
	b := OrderHash("token-2", []string{"oz/1"})
	if a == b {
		t.Fatalf("expected different tokens to hash differently for the same products, got %q for both", a)
	}
}

func TestOrderHashIsLowercaseHex(t *testing.T) {
	h := OrderHash("token-1", []string{"oz/1"})
	if len(h) != 40 {
		t.Fatalf("expected 40-char hex SHA-1 digest, got length %d (%q)", len(h), h)
	}
	for _, r := range h {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			t.Fatalf("expected lowercase hex digest, got %q", h)
		}
	}
}

func TestOrderHashEmptyProducts(t *testing.T) {
	a := OrderHash("token-1", nil)
	b := OrderHash("token-1", []string{})
	if a != b {
		t.Fatalf("expected nil and empty slices to hash identically, got %q vs %q", a, b)
	}
}
