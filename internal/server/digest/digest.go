// Package digest implements the server side of RFC 2617 HTTP Digest
// authentication with qop="auth": nonce issuance, challenge
// construction, Authorization header parsing and response validation.
//
// The stored credential is HA1 = MD5(username:realm:password), computed
// once at registration. The server never sees or stores the password
// itself, and HA1 is bound to the realm it was computed under.
package digest

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformedHeader is returned when the Authorization header is
	// missing, has the wrong scheme or lacks required directives.
	ErrMalformedHeader = errors.New("malformed digest authorization header")

	// ErrStaleNonce is returned when the response was computed with a
	// nonce the server did not issue, already consumed, or let expire.
	// The client should retry with a fresh nonce.
	ErrStaleNonce = errors.New("stale nonce")
)

// Credentials are the directives a client sends in its
// "Authorization: Digest ..." header.
type Credentials struct {
	Username string
	Realm    string
	Nonce    string
	URI      string
	QOP      string
	NC       string
	CNonce   string
	Opaque   string
	Response string
}

// ParseAuthorization parses the Authorization header value into
// Credentials. Directive values may be quoted or bare; unknown
// directives are ignored. Missing required directives fail with
// ErrMalformedHeader.
func ParseAuthorization(header string) (*Credentials, error) {
	const scheme = "Digest "
	if len(header) < len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return nil, ErrMalformedHeader
	}

	values := map[string]string{}
	for _, part := range strings.Split(header[len(scheme):], ",") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		value := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		values[key] = value
	}

	c := &Credentials{
		Username: values["username"],
		Realm:    values["realm"],
		Nonce:    values["nonce"],
		URI:      values["uri"],
		QOP:      values["qop"],
		NC:       values["nc"],
		CNonce:   values["cnonce"],
		Opaque:   values["opaque"],
		Response: values["response"],
	}

	for _, required := range []string{c.Username, c.Realm, c.Nonce, c.URI, c.QOP, c.NC, c.CNonce, c.Response} {
		if required == "" {
			return nil, ErrMalformedHeader
		}
	}
	return c, nil
}

// md5Hex returns the lowercase hex MD5 of the input string, the digest
// primitive the whole protocol is built on.
func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// ComputeHA1 binds identity, realm and secret:
// MD5(username:realm:password). Called once at registration; the result
// is the stored credential.
func ComputeHA1(username, realm, password string) string {
	return md5Hex(fmt.Sprintf("%s:%s:%s", username, realm, password))
}

// ComputeResponse recomputes the digest response for the given HA1 and
// request parameters: MD5(HA1:nonce:nc:cnonce:qop:HA2) with
// HA2 = MD5(method:uri).
func ComputeResponse(ha1, method, uri, nonce, nc, cnonce, qop string) string {
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))
	return md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, nc, cnonce, qop, ha2))
}
