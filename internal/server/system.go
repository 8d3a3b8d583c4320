package server

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// SystemResolver maps an ingestion credential to the producing system.
//
// Credentials are validated upstream; kansoku only needs to know which
// system a request speaks for. A credential listed in the key table maps
// to its configured system. Otherwise, a credential that parses as a JWT
// contributes its "system" claim, falling back to "sub". Anything else,
// including an absent credential, maps to the default system.
type SystemResolver struct {
	header        string
	keys          map[string]string
	defaultSystem string
	parser        *jwt.Parser
}

// NewSystemResolver creates a resolver reading header. keys may be nil.
func NewSystemResolver(header string, keys map[string]string, defaultSystem string) *SystemResolver {
	if header == "" {
		header = "X-API-Key"
	}
	return &SystemResolver{
		header:        header,
		keys:          keys,
		defaultSystem: defaultSystem,
		parser:        jwt.NewParser(),
	}
}

// Resolve returns the system for r.
func (s *SystemResolver) Resolve(r *http.Request) string {
	cred := credential(r.Header.Get(s.header))
	if cred == "" {
		cred = credential(r.Header.Get("Authorization"))
	}
	if cred == "" {
		return s.defaultSystem
	}
	if system, ok := s.keys[cred]; ok {
		return system
	}
	if system := s.fromToken(cred); system != "" {
		return system
	}
	return s.defaultSystem
}

func (s *SystemResolver) fromToken(raw string) string {
	// Three dot-separated segments is the cheapest reject for plain keys.
	if strings.Count(raw, ".") != 2 {
		return ""
	}
	claims := jwt.MapClaims{}
	if _, _, err := s.parser.ParseUnverified(raw, claims); err != nil {
		return ""
	}
	if system, ok := claims["system"].(string); ok && system != "" {
		return system
	}
	sub, err := claims.GetSubject()
	if err != nil {
		return ""
	}
	return sub
}

// credential strips an optional "Bearer " scheme.
func credential(v string) string {
	v = strings.TrimSpace(v)
	if scheme, rest, ok := strings.Cut(v, " "); ok && strings.EqualFold(scheme, "Bearer") {
		v = strings.TrimSpace(rest)
	}
	return v
}
