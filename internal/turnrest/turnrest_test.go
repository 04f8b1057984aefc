package turnrest

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func fixedGenerator(t *testing.T, now time.Time, ttl int64) *Generator {
	t.Helper()
	g, err := NewGenerator(Config{
		SharedSecret:   "shared-secret",
		TTLSeconds:     ttl,
		UsernamePrefix: "aero",
		Now:            func() time.Time { return now },
		NewSubject:     func() string { return "random" },
	})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	return g
}

func TestIssue_DeterministicWithFixedTime(t *testing.T) {
	g := fixedGenerator(t, time.Unix(1_700_000_000, 0), 3600)

	creds, err := g.Issue("peer123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := "1700003600:aero:peer123"; creds.Username != want {
		t.Fatalf("Username=%q, want %q", creds.Username, want)
	}
	if !creds.ExpiresAt.Equal(time.Unix(1_700_003_600, 0)) {
		t.Fatalf("ExpiresAt=%v", creds.ExpiresAt)
	}

	mac := hmac.New(sha1.New, []byte("shared-secret"))
	_, _ = mac.Write([]byte(creds.Username))
	if want := base64.StdEncoding.EncodeToString(mac.Sum(nil)); creds.Credential != want {
		t.Fatalf("Credential=%q, want %q", creds.Credential, want)
	}
}

func TestIssue_EmptySubjectUsesRandom(t *testing.T) {
	g := fixedGenerator(t, time.Unix(42, 0), 10)

	creds, err := g.Issue("")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if creds.Username != "52:aero:random" {
		t.Fatalf("Username=%q, want 52:aero:random", creds.Username)
	}
}

func TestIssue_DefaultSubjectIsUUID(t *testing.T) {
	g, err := NewGenerator(Config{SharedSecret: "s", TTLSeconds: 60, UsernamePrefix: "aero"})
	if err != nil {
		t.Fatalf("NewGenerator: %v", err)
	}
	a, _ := g.Issue("")
	b, _ := g.Issue("")
	if a.Username == b.Username {
		t.Fatalf("expected distinct random subjects, got %q twice", a.Username)
	}
	if parts := strings.Split(a.Username, ":"); len(parts) != 3 || len(parts[2]) != 36 {
		t.Fatalf("Username=%q, want <expiry>:aero:<uuid>", a.Username)
	}
}

func TestIssue_RejectsColonInSubject(t *testing.T) {
	g := fixedGenerator(t, time.Unix(0, 0), 1)
	if _, err := g.Issue("a:b"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewGenerator_Validation(t *testing.T) {
	for _, cfg := range []Config{
		{TTLSeconds: 1, UsernamePrefix: "aero"},
		{SharedSecret: "s", UsernamePrefix: "aero"},
		{SharedSecret: "s", TTLSeconds: 1},
		{SharedSecret: "s", TTLSeconds: 1, UsernamePrefix: "a:b"},
	} {
		if _, err := NewGenerator(cfg); err == nil {
			t.Fatalf("NewGenerator(%+v) succeeded, want error", cfg)
		}
	}
}

func TestApply(t *testing.T) {
	servers := []webrtc.ICEServer{
		{URLs: []string{"stun:stun.example.com:3478"}},
		{URLs: []string{"TURNS:turn.example.com:5349"}},
	}
	creds := Credentials{Username: "u", Credential: "c"}

	out := Apply(servers, creds)
	if out[0].Username != "" || out[0].Credential != nil {
		t.Fatalf("stun server got creds: %#v", out[0])
	}
	if out[1].Username != "u" || out[1].Credential != "c" {
		t.Fatalf("turn server creds: %#v", out[1])
	}
	if servers[1].Username != "" {
		t.Fatalf("Apply mutated its input")
	}
	if got := Apply(nil, creds); got == nil || len(got) != 0 {
		t.Fatalf("Apply(nil)=%#v, want empty non-nil", got)
	}
}
