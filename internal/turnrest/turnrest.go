// Package turnrest issues short-lived coturn TURN REST credentials
// (draft-uberti-behave-turn-rest):
//
//	username   = <unix expiry>:<prefix>:<subject>
//	credential = base64(hmac_sha1(shared_secret, username))
package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
)

type Config struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string

	// Now and NewSubject are overridable for tests.
	Now        func() time.Time
	NewSubject func() string
}

type Generator struct {
	secret     []byte
	ttl        int64
	prefix     string
	now        func() time.Time
	newSubject func() string
}

type Credentials struct {
	Username   string
	Credential string
	ExpiresAt  time.Time
}

func NewGenerator(cfg Config) (*Generator, error) {
	switch {
	case cfg.SharedSecret == "":
		return nil, errors.New("turnrest: shared secret is required")
	case cfg.TTLSeconds <= 0:
		return nil, errors.New("turnrest: TTLSeconds must be > 0")
	case cfg.UsernamePrefix == "":
		return nil, errors.New("turnrest: username prefix is required")
	case strings.Contains(cfg.UsernamePrefix, ":"):
		return nil, errors.New("turnrest: username prefix must not contain ':'")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewSubject == nil {
		cfg.NewSubject = uuid.NewString
	}
	return &Generator{
		secret:     []byte(cfg.SharedSecret),
		ttl:        cfg.TTLSeconds,
		prefix:     cfg.UsernamePrefix,
		now:        cfg.Now,
		newSubject: cfg.NewSubject,
	}, nil
}

// Issue returns credentials for subject, or for a fresh random subject when
// subject is empty.
func (g *Generator) Issue(subject string) (Credentials, error) {
	if subject == "" {
		subject = g.newSubject()
	}
	if strings.Contains(subject, ":") {
		return Credentials{}, errors.New("turnrest: subject must not contain ':'")
	}

	expiry := g.now().UTC().Unix() + g.ttl
	username := strconv.FormatInt(expiry, 10) + ":" + g.prefix + ":" + subject

	mac := hmac.New(sha1.New, g.secret)
	_, _ = mac.Write([]byte(username))

	return Credentials{
		Username:   username,
		Credential: base64.StdEncoding.EncodeToString(mac.Sum(nil)),
		ExpiresAt:  time.Unix(expiry, 0).UTC(),
	}, nil
}

// Apply returns a copy of servers with creds set on every entry that has a
// turn: or turns: URL. STUN-only entries are left as they are.
func Apply(servers []webrtc.ICEServer, creds Credentials) []webrtc.ICEServer {
	if servers == nil {
		return []webrtc.ICEServer{}
	}
	out := make([]webrtc.ICEServer, len(servers))
	for i, server := range servers {
		out[i] = server
		if HasTURNURL(server) {
			out[i].Username = creds.Username
			out[i].Credential = creds.Credential
		}
	}
	return out
}

func HasTURNURL(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u := strings.ToLower(strings.TrimSpace(raw))
		if strings.HasPrefix(u, "turn:") || strings.HasPrefix(u, "turns:") {
			return true
		}
	}
	return false
}
