package garmin

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"
)

// Signer produces OAuth 1.0a HMAC-SHA1 Authorization headers (RFC 5849).
// Nonce and Now are injectable so the signature base string is reproducible
// in tests.
type Signer struct {
	ConsumerKey    string
	ConsumerSecret string
	Nonce          func() string
	Now            func() time.Time
}

// NewSigner builds a Signer with crypto/rand nonces.
func NewSigner(consumerKey, consumerSecret string) *Signer {
	return &Signer{
		ConsumerKey:    consumerKey,
		ConsumerSecret: consumerSecret,
		Nonce:          randomNonce,
		Now:            time.Now,
	}
}

// AuthorizationHeader signs a request and returns the OAuth header value.
// params holds every non-oauth request parameter (query string plus form
// body); extraOAuth holds protocol parameters beyond the standard set, such
// as oauth_callback or oauth_verifier.
func (s *Signer) AuthorizationHeader(method, rawURL string, params url.Values, extraOAuth map[string]string, token, tokenSecret string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse request url: %w", err)
	}

	oauth := map[string]string{
		"oauth_consumer_key":     s.ConsumerKey,
		"oauth_nonce":            s.Nonce(),
		"oauth_signature_method": "HMAC-SHA1",
		"oauth_timestamp":        fmt.Sprintf("%d", s.Now().Unix()),
		"oauth_version":          "1.0",
	}
	if token != "" {
		oauth["oauth_token"] = token
	}
	for k, v := range extraOAuth {
		oauth[k] = v
	}

	oauth["oauth_signature"] = s.signature(method, u, params, oauth, tokenSecret)

	keys := make([]string, 0, len(oauth))
	for k := range oauth {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, percentEncode(k), percentEncode(oauth[k])))
	}
	return "OAuth " + strings.Join(parts, ", "), nil
}

// signature computes the HMAC-SHA1 signature over the RFC 5849 base string.
func (s *Signer) signature(method string, u *url.URL, params url.Values, oauth map[string]string, tokenSecret string) string {
	// Parameter string: every request and protocol parameter except the
	// signature itself, percent-encoded, sorted, joined with &.
	type pair struct{ k, v string }
	var pairs []pair
	for k, vs := range u.Query() {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, vs := range params {
		for _, v := range vs {
			pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
		}
	}
	for k, v := range oauth {
		pairs = append(pairs, pair{percentEncode(k), percentEncode(v)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})

	encoded := make([]string, len(pairs))
	for i, p := range pairs {
		encoded[i] = p.k + "=" + p.v
	}
	paramString := strings.Join(encoded, "&")

	baseURL := u.Scheme + "://" + u.Host + u.EscapedPath()
	base := strings.ToUpper(method) + "&" + percentEncode(baseURL) + "&" + percentEncode(paramString)

	key := percentEncode(s.ConsumerSecret) + "&" + percentEncode(tokenSecret)
	mac := hmac.New(sha1.New, []byte(key))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// percentEncode applies the RFC 3986 unreserved-set encoding OAuth 1.0a
// requires. url.QueryEscape is not usable here: it encodes space as '+' and
// leaves characters like '*' bare.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9',
			c == '-', c == '.', c == '_', c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func randomNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("nonce entropy unavailable: %v", err))
	}
	return hex.EncodeToString(buf)
}
