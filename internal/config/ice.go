package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/turnrest"
)

const (
	envICEServersJSON = "AERO_ICE_SERVERS_JSON"

	envStunURLs       = "AERO_STUN_URLS"
	envTurnURLs       = "AERO_TURN_URLS"
	envTurnUsername   = "AERO_TURN_USERNAME"
	envTurnCredential = "AERO_TURN_CREDENTIAL"
)

var iceURLSchemes = []string{"stun:", "stuns:", "turn:", "turns:"}

// TURNCredentialSource says where TURN usernames and credentials come from.
type TURNCredentialSource int

const (
	// TURNCredentialsStatic requires every TURN entry to carry its own
	// username and credential.
	TURNCredentialsStatic TURNCredentialSource = iota
	// TURNCredentialsREST mints credentials per /webrtc/ice request, so
	// configured TURN entries may leave them empty.
	TURNCredentialsREST
)

// ICESettings is the raw ICE configuration as read from env and flags.
type ICESettings struct {
	ServersJSON    string
	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string
}

// Servers resolves the list advertised to browsers. ServersJSON wins over the
// comma-separated URL lists.
func (s ICESettings) Servers(src TURNCredentialSource) ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.ServersJSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, src)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := compactURLs(strings.Split(s.STUNURLs, ",")); len(urls) > 0 {
		stun := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(stun, TURNCredentialsStatic); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, stun)
	}
	if urls := compactURLs(strings.Split(s.TURNURLs, ",")); len(urls) > 0 {
		turn := withStaticCredentials(webrtc.ICEServer{URLs: urls}, s.TURNUsername, s.TURNCredential)
		if err := checkICEServer(turn, src); err != nil {
			return nil, fmt.Errorf("%s (with %s/%s): %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, turn)
	}
	return servers, nil
}

// iceServerEntry accepts "urls" as a string or a list, like RTCIceServer.
type iceServerEntry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username,omitempty"`
	Credential string  `json:"credential,omitempty"`
}

type urlList []string

func (l *urlList) UnmarshalJSON(b []byte) error {
	var one string
	if err := json.Unmarshal(b, &one); err == nil {
		*l = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(b, &many); err != nil {
		return errors.New(`"urls" must be a string or a list of strings`)
	}
	*l = many
	return nil
}

// ParseICEServersJSON parses an RTCIceServer-shaped JSON array.
func ParseICEServersJSON(raw string, src TURNCredentialSource) ([]webrtc.ICEServer, error) {
	var entries []iceServerEntry
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		server := withStaticCredentials(webrtc.ICEServer{URLs: compactURLs(e.URLs)}, e.Username, e.Credential)
		if err := checkICEServer(server, src); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

func withStaticCredentials(server webrtc.ICEServer, username, credential string) webrtc.ICEServer {
	server.Username = strings.TrimSpace(username)
	// Credential stays nil rather than "" so JSON output omits it.
	if strings.TrimSpace(credential) != "" {
		server.Credential = credential
	}
	return server
}

func compactURLs(parts []string) []string {
	var out []string
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func checkICEServer(server webrtc.ICEServer, src TURNCredentialSource) error {
	if len(server.URLs) == 0 {
		return errors.New("missing urls")
	}
	for _, u := range server.URLs {
		if !hasICEScheme(u) {
			return fmt.Errorf("unsupported url scheme: %q", u)
		}
	}
	if src == TURNCredentialsREST || !turnrest.HasTURNURL(server) {
		return nil
	}

	if server.Username == "" {
		return errors.New("turn urls require username")
	}
	if cred, ok := server.Credential.(string); !ok || strings.TrimSpace(cred) == "" {
		return errors.New("turn urls require credential")
	}
	return nil
}

func hasICEScheme(u string) bool {
	u = strings.ToLower(u)
	for _, scheme := range iceURLSchemes {
		if strings.HasPrefix(u, scheme) {
			return true
		}
	}
	return false
}
