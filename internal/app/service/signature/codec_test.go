package signature

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCodec() *Codec {
	return NewCodec("5294y06JbISpM5x9", "v77hoKGq4kWxNNIS")
}

func TestSign_Deterministic(t *testing.T) {
	c := testCodec()
	params := map[string]string{
		"MerchantID":       "3002607",
		"MerchantMemberID": "M1700000000AB12CD34EF",
		"PeriodType":       "M",
		"PeriodAmt":        "89900",
		"TimeStamp":        "1700000000",
	}

	first := c.Sign(params)
	require.NotEmpty(t, first)
	require.Equal(t, strings.ToUpper(first), first)
	require.Len(t, first, 64)

	for i := 0; i < 10; i++ {
		assert.Equal(t, first, c.Sign(params))
	}
}

func TestSign_IgnoresSignatureField(t *testing.T) {
	c := testCodec()
	params := map[string]string{"A": "1", "B": "2"}
	base := c.Sign(params)

	params[Field] = "FFFF"
	assert.Equal(t, base, c.Sign(params))
}

func TestSign_EmptyValueIsSignificant(t *testing.T) {
	c := testCodec()
	with := c.Sign(map[string]string{"A": "1", "B": ""})
	without := c.Sign(map[string]string{"A": "1"})
	assert.NotEqual(t, with, without, "empty values participate in the digest")
}

func TestSign_ValueEncoding(t *testing.T) {
	c := testCodec()
	// A space encodes as "+"; the two maps must not collide.
	a := c.Sign(map[string]string{"Msg": "hello world"})
	b := c.Sign(map[string]string{"Msg": "hello+world"})
	assert.NotEqual(t, a, b)
}

func TestVerify_RoundTrip(t *testing.T) {
	c := testCodec()
	params := map[string]string{
		"MerchantMemberID": "M1700000000AB12CD34EF",
		"RtnCode":          "1",
		"RtnMsg":           "",
		"AuthCode":         "777777",
	}
	params[Field] = c.Sign(params)
	assert.NoError(t, c.Verify(params))
}

func TestVerify_AcceptsLowercaseSupplied(t *testing.T) {
	c := testCodec()
	params := map[string]string{"A": "1"}
	params[Field] = strings.ToLower(c.Sign(params))
	assert.NoError(t, c.Verify(params))
}

func TestVerify_Failures(t *testing.T) {
	c := testCodec()

	tests := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{name: "missing signature", mutate: func(p map[string]string) { delete(p, Field) }},
		{name: "empty signature", mutate: func(p map[string]string) { p[Field] = "" }},
		{name: "tampered value", mutate: func(p map[string]string) { p["Amount"] = "1" }},
		{name: "added field", mutate: func(p map[string]string) { p["Extra"] = "x" }},
		{name: "removed field", mutate: func(p map[string]string) { delete(p, "RtnCode") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := map[string]string{
				"MerchantMemberID": "M1700000000AB12CD34EF",
				"RtnCode":          "1",
				"Amount":           "89900",
			}
			params[Field] = c.Sign(params)
			tt.mutate(params)
			assert.ErrorIs(t, c.Verify(params), ErrVerificationFailed)
		})
	}
}

// Avalanche: a single-character change anywhere in the input flips the digest.
func TestSign_Avalanche(t *testing.T) {
	c := testCodec()
	base := map[string]string{"MerchantMemberID": "M1700000000AB12CD34EF", "Amount": "89900"}
	baseline := c.Sign(base)

	mutated := map[string]string{"MerchantMemberID": "M1700000000AB12CD34EG", "Amount": "89900"}
	assert.NotEqual(t, baseline, c.Sign(mutated))

	otherKeys := c.Sign(map[string]string{"MerchantMemberNo": "M1700000000AB12CD34EF", "Amount": "89900"})
	assert.NotEqual(t, baseline, otherKeys)

	// Key-case differences collapse: the encoded string is lowercased before
	// hashing, so only case-insensitive key changes count as mutations.
	sameKeyOtherCase := c.Sign(map[string]string{"MerchantMemberId": "M1700000000AB12CD34EF", "Amount": "89900"})
	assert.Equal(t, baseline, sameKeyOtherCase)

	otherSecret := NewCodec("5294y06JbISpM5x8", "v77hoKGq4kWxNNIS").Sign(base)
	assert.NotEqual(t, baseline, otherSecret)
}

func TestSignAny_StringifiesScalars(t *testing.T) {
	c := testCodec()
	want := c.Sign(map[string]string{"Amt": "89900", "Retry": "true", "Rate": "0.5"})
	got := c.SignAny(map[string]any{"Amt": int64(89900), "Retry": true, "Rate": 0.5})
	assert.Equal(t, want, got)
}
