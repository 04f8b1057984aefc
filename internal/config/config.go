package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-signaling-relay/internal/origin"
)

const (
	envVarPort            = "PORT"
	envVarListenAddr      = "AERO_SIGNALING_LISTEN_ADDR"
	envVarEnvFile         = "AERO_SIGNALING_ENV_FILE"
	envVarAllowedOrigins  = "ALLOWED_ORIGINS"
	envVarLogFormat       = "AERO_SIGNALING_LOG_FORMAT"
	envVarLogLevel        = "AERO_SIGNALING_LOG_LEVEL"
	envVarShutdownTimeout = "AERO_SIGNALING_SHUTDOWN_TIMEOUT"
	envVarMode            = "AERO_SIGNALING_MODE"

	// TLS material. Names match the deployment scripts that predate this
	// binary.
	envVarTLSKeyFile    = "KEY_FILE_NAME"
	envVarTLSCertFile   = "CERTIFICATE_FILE_NAME"
	envVarTLSPassphrase = "CERTIFICATE_PASSPHRASE"

	envVarSignalingWSIdleTimeout        = "SIGNALING_WS_IDLE_TIMEOUT"
	envVarSignalingWSPingInterval       = "SIGNALING_WS_PING_INTERVAL"
	envVarMaxSignalingMessageBytes      = "MAX_SIGNALING_MESSAGE_BYTES"
	envVarMaxSignalingMessagesPerSecond = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envVarPeerSendQueueSize             = "PEER_SEND_QUEUE_SIZE"

	envVarTURNRESTSharedSecret   = "TURN_REST_SHARED_SECRET"
	envVarTURNRESTTTLSeconds     = "TURN_REST_TTL_SECONDS"
	envVarTURNRESTUsernamePrefix = "TURN_REST_USERNAME_PREFIX"
)

const flagEnvFile = "env-file"

const (
	DefaultPort                = 3000
	DefaultEnvFile             = ".env"
	DefaultAllowedOrigins      = origin.Wildcard
	DefaultShutdown            = 15 * time.Second
	DefaultMode           Mode = ModeDev

	DefaultSignalingWSIdleTimeout        = 60 * time.Second
	DefaultSignalingWSPingInterval       = 20 * time.Second
	DefaultMaxSignalingMessageBytes      = int64(64 * 1024)
	DefaultMaxSignalingMessagesPerSecond = 50
	DefaultPeerSendQueueSize             = 256

	DefaultTURNRESTTTLSeconds     int64  = 3600
	DefaultTURNRESTUsernamePrefix string = "aero"
)

type Mode string

const (
	ModeDev  Mode = "dev"
	ModeProd Mode = "prod"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

type TurnRESTConfig struct {
	SharedSecret   string
	TTLSeconds     int64
	UsernamePrefix string
}

func (c TurnRESTConfig) Enabled() bool {
	return strings.TrimSpace(c.SharedSecret) != ""
}

func (c TurnRESTConfig) CredentialSource() TURNCredentialSource {
	if c.Enabled() {
		return TURNCredentialsREST
	}
	return TURNCredentialsStatic
}

type Config struct {
	ListenAddr      string
	AllowedOrigins  []string
	LogFormat       LogFormat
	LogLevel        slog.Level
	ShutdownTimeout time.Duration
	Mode            Mode

	// TLSCertFile and TLSKeyFile are both set or both empty. When empty the
	// server speaks plain HTTP.
	TLSCertFile   string
	TLSKeyFile    string
	TLSPassphrase string

	SignalingWSIdleTimeout        time.Duration
	SignalingWSPingInterval       time.Duration
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	PeerSendQueueSize             int

	// ICEServers is advertised to browsers via GET /webrtc/ice.
	ICEServers []webrtc.ICEServer
	TURNREST   TurnRESTConfig

	iceConfigErr error
}

func (c Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// ICEConfigError reports a malformed ICE server configuration. It is kept off
// the Load error path so the signaling socket still starts; /webrtc/ice
// answers 500 until the operator fixes it.
func (c Config) ICEConfigError() error {
	return c.iceConfigErr
}

// Load reads an optional dotenv file, then the process environment, then
// command-line flags. Variables already present in the environment win over
// the dotenv file. The file is chosen by --env-file, then
// AERO_SIGNALING_ENV_FILE, then DefaultEnvFile; a missing file is ignored.
func Load(args []string) (Config, error) {
	envFile := DefaultEnvFile
	if v, ok := os.LookupEnv(envVarEnvFile); ok && strings.TrimSpace(v) != "" {
		envFile = strings.TrimSpace(v)
	}
	if v, ok := envFileFromArgs(args); ok {
		if strings.TrimSpace(v) == "" {
			return Config{}, fmt.Errorf("--%s requires a file name", flagEnvFile)
		}
		envFile = strings.TrimSpace(v)
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}
	return load(os.LookupEnv, args)
}

// envFileFromArgs finds --env-file ahead of the real flag parse, since the
// dotenv file has to be applied before env defaults are read.
func envFileFromArgs(args []string) (string, bool) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return "", false
		}
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if value, found := strings.CutPrefix(name, flagEnvFile+"="); found {
			return value, true
		}
		if name == flagEnvFile {
			if i+1 < len(args) {
				return args[i+1], true
			}
			return "", true
		}
	}
	return "", false
}

func load(lookup func(string) (string, bool), args []string) (Config, error) {
	envMode, _ := lookup(envVarMode)
	modeDefault := string(DefaultMode)
	if envMode != "" {
		modeDefault = envMode
	}

	envLogFormat, envLogFormatOK := lookup(envVarLogFormat)
	envLogFormatSet := envLogFormatOK && envLogFormat != ""
	logFormatDefault := envLogFormat
	if !envLogFormatSet {
		logFormatDefault = defaultLogFormatForMode(modeDefault)
	}

	envLogLevel, envLogLevelOK := lookup(envVarLogLevel)
	envLogLevelSet := envLogLevelOK && envLogLevel != ""
	logLevelDefault := envLogLevel
	if !envLogLevelSet {
		logLevelDefault = defaultLogLevelForMode(modeDefault)
	}

	port, err := envIntOrDefault(lookup, envVarPort, DefaultPort)
	if err != nil {
		return Config{}, err
	}
	listenAddr := envOrDefault(lookup, envVarListenAddr, "")
	// An explicitly empty ALLOWED_ORIGINS restricts sockets to same-host pages.
	allowedOriginsStr := DefaultAllowedOrigins
	if v, ok := lookup(envVarAllowedOrigins); ok {
		allowedOriginsStr = v
	}

	tlsKeyFile := envOrDefault(lookup, envVarTLSKeyFile, "")
	tlsCertFile := envOrDefault(lookup, envVarTLSCertFile, "")
	tlsPassphrase := envOrDefault(lookup, envVarTLSPassphrase, "")

	iceServersJSON := envOrDefault(lookup, envICEServersJSON, "")
	stunURLs := envOrDefault(lookup, envStunURLs, "")
	turnURLs := envOrDefault(lookup, envTurnURLs, "")
	turnUsername := envOrDefault(lookup, envTurnUsername, "")
	turnCredential := envOrDefault(lookup, envTurnCredential, "")

	turnRESTSharedSecret := envOrDefault(lookup, envVarTURNRESTSharedSecret, "")
	turnRESTTTLSeconds := DefaultTURNRESTTTLSeconds
	if raw, ok := lookup(envVarTURNRESTTTLSeconds); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarTURNRESTTTLSeconds, raw, err)
		}
		turnRESTTTLSeconds = n
	}
	turnRESTUsernamePrefix := envOrDefault(lookup, envVarTURNRESTUsernamePrefix, DefaultTURNRESTUsernamePrefix)

	shutdownTimeout, err := envDurationOrDefault(lookup, envVarShutdownTimeout, DefaultShutdown)
	if err != nil {
		return Config{}, err
	}
	signalingWSIdleTimeout, err := envDurationOrDefault(lookup, envVarSignalingWSIdleTimeout, DefaultSignalingWSIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	signalingWSPingInterval, err := envDurationOrDefault(lookup, envVarSignalingWSPingInterval, DefaultSignalingWSPingInterval)
	if err != nil {
		return Config{}, err
	}

	maxSignalingMessageBytes := DefaultMaxSignalingMessageBytes
	if raw, ok := lookup(envVarMaxSignalingMessageBytes); ok && strings.TrimSpace(raw) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s %q: %w", envVarMaxSignalingMessageBytes, raw, err)
		}
		maxSignalingMessageBytes = n
	}
	maxSignalingMessagesPerSecond, err := envIntOrDefault(lookup, envVarMaxSignalingMessagesPerSecond, DefaultMaxSignalingMessagesPerSecond)
	if err != nil {
		return Config{}, err
	}
	peerSendQueueSize, err := envIntOrDefault(lookup, envVarPeerSendQueueSize, DefaultPeerSendQueueSize)
	if err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("aero-webrtc-signaling-relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		modeStr      string
		logFormatStr string
		logLevelStr  string
	)

	fs.IntVar(&port, "port", port, "HTTP(S) listen port (env "+envVarPort+")")
	fs.StringVar(&listenAddr, "listen-addr", listenAddr, "Listen address host:port; overrides --port (env "+envVarListenAddr+")")
	fs.StringVar(&allowedOriginsStr, "allowed-origins", allowedOriginsStr, "Comma-separated list of allowed browser origins, * for any, empty for same-host only (env "+envVarAllowedOrigins+")")
	// Consumed by Load before parsing; registered so the flag is accepted.
	fs.String(flagEnvFile, "", "dotenv file loaded before reading the environment (env "+envVarEnvFile+")")
	fs.StringVar(&modeStr, "mode", modeDefault, "Run mode: dev or prod")
	fs.StringVar(&logFormatStr, "log-format", logFormatDefault, "Log format: text or json")
	fs.StringVar(&logLevelStr, "log-level", logLevelDefault, "Log level: debug, info, warn, error")
	fs.DurationVar(&shutdownTimeout, "shutdown-timeout", shutdownTimeout, "Graceful shutdown timeout (e.g. 15s)")

	fs.StringVar(&tlsKeyFile, "tls-key", tlsKeyFile, "PEM private key file (env "+envVarTLSKeyFile+")")
	fs.StringVar(&tlsCertFile, "tls-cert", tlsCertFile, "PEM certificate chain file (env "+envVarTLSCertFile+")")
	fs.StringVar(&tlsPassphrase, "tls-passphrase", tlsPassphrase, "Passphrase for an encrypted private key (env "+envVarTLSPassphrase+")")

	fs.DurationVar(&signalingWSIdleTimeout, "ws-idle-timeout", signalingWSIdleTimeout, "Close signaling sockets idle for this long (env "+envVarSignalingWSIdleTimeout+")")
	fs.DurationVar(&signalingWSPingInterval, "ws-ping-interval", signalingWSPingInterval, "Signaling socket ping interval (env "+envVarSignalingWSPingInterval+")")
	fs.Int64Var(&maxSignalingMessageBytes, "max-message-bytes", maxSignalingMessageBytes, "Max inbound signaling message size (env "+envVarMaxSignalingMessageBytes+")")
	fs.IntVar(&maxSignalingMessagesPerSecond, "max-messages-per-second", maxSignalingMessagesPerSecond, "Max inbound signaling messages per second per connection (env "+envVarMaxSignalingMessagesPerSecond+")")
	fs.IntVar(&peerSendQueueSize, "peer-send-queue", peerSendQueueSize, "Outbound events buffered per peer before dropping (env "+envVarPeerSendQueueSize+")")

	fs.StringVar(&iceServersJSON, "ice-servers-json", iceServersJSON, "ICE server JSON config ("+envICEServersJSON+")")
	fs.StringVar(&stunURLs, "stun-urls", stunURLs, "comma-separated STUN URLs ("+envStunURLs+")")
	fs.StringVar(&turnURLs, "turn-urls", turnURLs, "comma-separated TURN URLs ("+envTurnURLs+")")
	fs.StringVar(&turnUsername, "turn-username", turnUsername, "TURN username ("+envTurnUsername+")")
	fs.StringVar(&turnCredential, "turn-credential", turnCredential, "TURN credential ("+envTurnCredential+")")
	fs.StringVar(&turnRESTSharedSecret, "turn-rest-shared-secret", turnRESTSharedSecret, "TURN REST shared secret ("+envVarTURNRESTSharedSecret+")")
	fs.Int64Var(&turnRESTTTLSeconds, "turn-rest-ttl-seconds", turnRESTTTLSeconds, "TURN REST credential TTL seconds ("+envVarTURNRESTTTLSeconds+")")
	fs.StringVar(&turnRESTUsernamePrefix, "turn-rest-username-prefix", turnRESTUsernamePrefix, "TURN REST username prefix ("+envVarTURNRESTUsernamePrefix+")")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	mode, err := parseMode(modeStr)
	if err != nil {
		return Config{}, err
	}

	// If the user set --mode but not the log format/level, derive defaults from
	// the final mode.
	if !flagWasSet(fs, "log-format") && !envLogFormatSet {
		logFormatStr = defaultLogFormatForMode(string(mode))
	}
	if !flagWasSet(fs, "log-level") && !envLogLevelSet {
		logLevelStr = defaultLogLevelForMode(string(mode))
	}

	logFormat, err := parseLogFormat(logFormatStr)
	if err != nil {
		return Config{}, err
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	allowedOrigins, err := parseAllowedOrigins(allowedOriginsStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid %s: %w", envVarAllowedOrigins, err)
	}

	listenAddr = strings.TrimSpace(listenAddr)
	if listenAddr == "" {
		if port <= 0 || port > 65535 {
			return Config{}, fmt.Errorf("invalid %s %d (expected 1-65535)", envVarPort, port)
		}
		listenAddr = net.JoinHostPort("", strconv.Itoa(port))
	} else if _, _, err := net.SplitHostPort(listenAddr); err != nil {
		return Config{}, fmt.Errorf("invalid %s %q: %w", envVarListenAddr, listenAddr, err)
	}

	tlsKeyFile = strings.TrimSpace(tlsKeyFile)
	tlsCertFile = strings.TrimSpace(tlsCertFile)
	if (tlsKeyFile == "") != (tlsCertFile == "") {
		return Config{}, fmt.Errorf("%s and %s must be set together (or both unset)", envVarTLSKeyFile, envVarTLSCertFile)
	}
	if tlsPassphrase != "" && tlsKeyFile == "" {
		return Config{}, fmt.Errorf("%s is set but %s is not", envVarTLSPassphrase, envVarTLSKeyFile)
	}

	if shutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("shutdown timeout must be > 0")
	}
	if signalingWSIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSIdleTimeout)
	}
	if signalingWSPingInterval <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarSignalingWSPingInterval)
	}
	if signalingWSPingInterval >= signalingWSIdleTimeout {
		return Config{}, fmt.Errorf("%s (%s) must be less than %s (%s)",
			envVarSignalingWSPingInterval, signalingWSPingInterval,
			envVarSignalingWSIdleTimeout, signalingWSIdleTimeout)
	}
	if maxSignalingMessageBytes <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessageBytes)
	}
	if maxSignalingMessagesPerSecond <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarMaxSignalingMessagesPerSecond)
	}
	if peerSendQueueSize <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarPeerSendQueueSize)
	}
	if turnRESTTTLSeconds <= 0 {
		return Config{}, fmt.Errorf("%s must be > 0", envVarTURNRESTTTLSeconds)
	}

	cfg := Config{
		ListenAddr:      listenAddr,
		AllowedOrigins:  allowedOrigins,
		LogFormat:       logFormat,
		LogLevel:        level,
		ShutdownTimeout: shutdownTimeout,
		Mode:            mode,

		TLSCertFile:   tlsCertFile,
		TLSKeyFile:    tlsKeyFile,
		TLSPassphrase: tlsPassphrase,

		SignalingWSIdleTimeout:        signalingWSIdleTimeout,
		SignalingWSPingInterval:       signalingWSPingInterval,
		MaxSignalingMessageBytes:      maxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: maxSignalingMessagesPerSecond,
		PeerSendQueueSize:             peerSendQueueSize,

		TURNREST: TurnRESTConfig{
			SharedSecret:   turnRESTSharedSecret,
			TTLSeconds:     turnRESTTTLSeconds,
			UsernamePrefix: turnRESTUsernamePrefix,
		},
	}

	ice := ICESettings{
		ServersJSON:    iceServersJSON,
		STUNURLs:       stunURLs,
		TURNURLs:       turnURLs,
		TURNUsername:   turnUsername,
		TURNCredential: turnCredential,
	}
	iceServers, err := ice.Servers(cfg.TURNREST.CredentialSource())
	if err != nil {
		cfg.iceConfigErr = err
	} else {
		cfg.ICEServers = iceServers
	}

	return cfg, nil
}

func NewLogger(cfg Config) (*slog.Logger, error) {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case LogFormatText:
		handler = slog.NewTextHandler(os.Stdout, opts)
	case LogFormatJSON:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.LogFormat)
	}

	return slog.New(handler), nil
}

func flagWasSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return d, nil
}

func defaultLogFormatForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return string(LogFormatJSON)
	default:
		return string(LogFormatText)
	}
}

func defaultLogLevelForMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case string(ModeProd), "production":
		return "info"
	default:
		return "debug"
	}
}

func parseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(ModeDev), "development":
		return ModeDev, nil
	case string(ModeProd), "production":
		return ModeProd, nil
	default:
		return "", fmt.Errorf("invalid mode %q (expected dev or prod)", raw)
	}
}

func parseLogFormat(raw string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(LogFormatText):
		return LogFormatText, nil
	case string(LogFormatJSON):
		return LogFormatJSON, nil
	default:
		return "", fmt.Errorf("invalid log format %q (expected text or json)", raw)
	}
}

func parseLogLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (expected debug, info, warn, error)", raw)
	}
}

func parseAllowedOrigins(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var out []string
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		if entry == "*" {
			out = append(out, entry)
			continue
		}

		normalizedOrigin, _, ok := origin.Normalize(entry)
		if !ok {
			return nil, fmt.Errorf("invalid origin %q (expected full origin like https://example.com)", entry)
		}
		out = append(out, normalizedOrigin)
	}

	return out, nil
}
