package crypto

import (
	"strings"
	"testing"
)

func newTestCipher(t *testing.T) *FieldCipher {
	t.Helper()
	c, err := NewFieldCipher("test-secret")
	if err != nil {
		t.Fatalf("NewFieldCipher failed: %v", err)
	}
	return c
}

func TestFieldCipherRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("123-45-6789")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	iv, ct, ok := strings.Cut(enc, ":")
	if !ok {
		t.Fatalf("expected ivHex:cipherHex, got %q", enc)
	}
	if len(iv) != 32 {
		t.Errorf("expected 32 hex chars of IV, got %d", len(iv))
	}
	if ct == "" || strings.Contains(ct, "123-45-6789") {
		t.Errorf("ciphertext looks wrong: %q", ct)
	}
	if got := c.Decrypt(enc); got != "123-45-6789" {
		t.Errorf("Decrypt = %q, want original", got)
	}
}

func TestFieldCipherFreshIV(t *testing.T) {
	c := newTestCipher(t)
	a, _ := c.Encrypt("same plaintext")
	b, _ := c.Encrypt("same plaintext")
	if a == b {
		t.Error("two encryptions of the same value should differ")
	}
}

func TestFieldCipherEmptyValue(t *testing.T) {
	c := newTestCipher(t)
	enc, err := c.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if enc != "" {
		t.Errorf("empty input should stay empty, got %q", enc)
	}
	if got := c.Decrypt(""); got != "" {
		t.Errorf("Decrypt(\"\") = %q", got)
	}
}

func TestFieldCipherDecryptNeverErrors(t *testing.T) {
	c := newTestCipher(t)
	malformed := []string{
		"no separator here",
		"zz:zz",
		"abcd:1234",
		"00112233445566778899aabbccddeeff:",
		"00112233445566778899aabbccddeeff:00112233", // not block aligned
	}
	for _, in := range malformed {
		if got := c.Decrypt(in); got != "" {
			t.Errorf("Decrypt(%q) = %q, want empty", in, got)
		}
	}
}

func TestFieldCipherWrongKey(t *testing.T) {
	c := newTestCipher(t)
	other, err := NewFieldCipher("different-secret")
	if err != nil {
		t.Fatalf("NewFieldCipher failed: %v", err)
	}
	enc, _ := c.Encrypt("insurance-88421")
	// Wrong-key decryption almost always breaks padding; either way it must
	// not return the plaintext.
	if got := other.Decrypt(enc); got == "insurance-88421" {
		t.Error("wrong key decrypted to the original plaintext")
	}
}

func TestFieldCipherEmptySecret(t *testing.T) {
	if _, err := NewFieldCipher(""); err == nil {
		t.Error("expected error for empty secret")
	}
}

func TestSummarizeDiagnosis(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"short text unchanged", "Influenza A", "Influenza A"},
		{
			"exactly 100 runes unchanged",
			strings.Repeat("a", 100),
			strings.Repeat("a", 100),
		},
		{
			"cut at first terminator",
			"Chronic condition, responding to treatment. " + strings.Repeat("x", 120),
			"Chronic condition,...",
		},
		{
			"hard cut without terminator",
			strings.Repeat("b", 150),
			strings.Repeat("b", 100) + "...",
		},
		{
			"full-width terminator",
			"高血圧症。" + strings.Repeat("継", 120),
			"高血圧症。...",
		},
		{
			"newline terminates",
			"Line one\n" + strings.Repeat("y", 150),
			"Line one\n...",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SummarizeDiagnosis(tt.in); got != tt.want {
				t.Errorf("SummarizeDiagnosis(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
