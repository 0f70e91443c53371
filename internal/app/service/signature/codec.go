package signature

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Field is the request parameter carrying the signature.
const Field = "CheckMacValue"

// ErrVerificationFailed is the security-boundary error: the supplied
// signature does not match the recomputed one (or is missing entirely).
var ErrVerificationFailed = errors.New("signature verification failed")

// Codec computes and checks the gateway request signature.
type Codec struct {
	hashKey string
	hashIV  string
}

func NewCodec(hashKey, hashIV string) *Codec {
	return &Codec{hashKey: hashKey, hashIV: hashIV}
}

// Sign computes the signature over params. Any existing signature field is
// ignored. The algorithm is fixed by the gateway:
//
//  1. sort keys by byte value
//  2. url-encode each value ("+" for space); empty values stay as empty
//     strings, never omitted
//  3. join as key=value with "&", wrap with HashKey/HashIV
//  4. url-encode the whole string again, lowercase it
//  5. SHA-256, hex, uppercase
func (c *Codec) Sign(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == Field {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+url.QueryEscape(params[k]))
	}

	wrapped := "HashKey=" + c.hashKey + "&" + strings.Join(pairs, "&") + "&HashIV=" + c.hashIV
	encoded := strings.ToLower(url.QueryEscape(wrapped))

	sum := sha256.Sum256([]byte(encoded))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Verify recomputes the signature over the non-signature fields of params
// and compares it against the supplied value in constant time.
func (c *Codec) Verify(params map[string]string) error {
	supplied, ok := params[Field]
	if !ok || supplied == "" {
		return ErrVerificationFailed
	}
	expected := c.Sign(params)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(strings.ToUpper(supplied))) != 1 {
		return ErrVerificationFailed
	}
	return nil
}

// Stringify renders a scalar parameter value the way the gateway expects
// before signing. Strings pass through untouched.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// SignAny signs a parameter map with mixed scalar values.
func (c *Codec) SignAny(params map[string]any) string {
	flat := make(map[string]string, len(params))
	for k, v := range params {
		flat[k] = Stringify(v)
	}
	return c.Sign(flat)
}
