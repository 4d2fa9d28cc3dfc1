package config

import (
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type EnvConfig struct {
	ListenAddr string
	APIKey     string
	Debug      bool
	Agent      AgentEnvConfig
	Chat       ChatEnvConfig
	Images     ImageEnvConfig
	Spaces     SpacesEnvConfig
	OTel       OTelEnvConfig
}

type AgentEnvConfig struct {
	EndpointURL string
	AccessToken string
	HTTPTimeout time.Duration
	TLSVerify   bool
	UserAgent   string
	OTel        AgentOTelEnvConfig
}

type AgentOTelEnvConfig struct {
	Enabled       bool
	CaptureBodies bool
	MaxBodyBytes  int
}

type ChatEnvConfig struct {
	StreamingEnabled    bool
	NotificationEnabled bool
	NotificationMessage string
}

type ImageEnvConfig struct {
	DetectionEnabled bool
	URLPattern       string
	MaxImages        int
	MapFile          string
}

type SpacesEnvConfig struct {
	SigningEnabled bool
	Region         string
	AccessKey      string
	SecretKey      string
	URLExpiry      time.Duration
}

type OTelEnvConfig struct {
	Enabled     bool
	ServiceName string
	Endpoint    string
	Protocol    string // "grpc" or "http/protobuf"
	Headers     map[string]string
	Insecure    bool
	SampleRatio float64
}

// DefaultImageURLPattern matches direct links to image objects in
// DigitalOcean Spaces buckets, with or without presigned query parameters.
// The pattern is compiled case-insensitively, so uppercase extensions are
// covered.
const DefaultImageURLPattern = `https://[a-zA-Z0-9\-]+\.(?:nyc3|sfo3|ams3|sgp1|fra1|blr1|lon1|tor1)\.digitaloceanspaces\.com/[^\s\)\"'>]+\.(?:png|jpg|jpeg|gif|webp)(?:\?[^\s\)\"'>]*)?`

// DefaultNotificationMessage is appended to the first assistant turn of a
// conversation when notifications are enabled.
const DefaultNotificationMessage = "Note: This assistant is still learning and may occasionally miss details or make incorrect connections."

func LoadEnv() EnvConfig {
	otlpEndpoint := strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""))

	return EnvConfig{
		ListenAddr: envString("LISTEN_ADDR", ":8080"),
		APIKey:     strings.TrimSpace(envString("PIPE_API_KEY", "")),
		Debug:      envBool("DEBUG", false),
		Agent: AgentEnvConfig{
			EndpointURL: strings.TrimSpace(envString("AGENT_ENDPOINT_URL", "")),
			AccessToken: strings.TrimSpace(envString("AGENT_ACCESS_TOKEN", "")),
			HTTPTimeout: envDuration("AGENT_TIMEOUT", 2*time.Minute),
			TLSVerify:   envBool("AGENT_TLS_VERIFY", true),
			UserAgent:   envString("AGENT_USER_AGENT", "agentpipe/0.1"),
			OTel: AgentOTelEnvConfig{
				Enabled:       envBool("OTEL_AGENT_ENABLED", true),
				CaptureBodies: envBool("OTEL_CAPTURE_AGENT_BODIES", false),
				MaxBodyBytes:  envInt("OTEL_AGENT_MAX_BODY_BYTES", 64*1024),
			},
		},
		Chat: ChatEnvConfig{
			StreamingEnabled:    envBool("STREAMING_ENABLED", true),
			NotificationEnabled: envBool("NOTIFICATION_ENABLED", false),
			NotificationMessage: envString("NOTIFICATION_MESSAGE", DefaultNotificationMessage),
		},
		Images: ImageEnvConfig{
			DetectionEnabled: envBool("IMAGE_DETECTION_ENABLED", true),
			URLPattern:       envString("IMAGE_URL_PATTERN", DefaultImageURLPattern),
			MaxImages:        envInt("MAX_IMAGES", 10),
			MapFile:          strings.TrimSpace(envString("IMAGE_MAP_FILE", "")),
		},
		Spaces: SpacesEnvConfig{
			SigningEnabled: envBool("SPACES_SIGNING_ENABLED", false),
			Region:         strings.TrimSpace(envString("SPACES_REGION", "nyc3")),
			AccessKey:      strings.TrimSpace(envString("SPACES_ACCESS_KEY", "")),
			SecretKey:      strings.TrimSpace(envString("SPACES_SECRET_KEY", "")),
			URLExpiry:      envDuration("SPACES_URL_EXPIRY", time.Hour),
		},
		OTel: OTelEnvConfig{
			Enabled:     envBool("OTEL_ENABLED", false),
			ServiceName: strings.TrimSpace(envString("OTEL_SERVICE_NAME", "agentpipe")),
			Endpoint:    otlpEndpoint,
			Protocol:    strings.ToLower(strings.TrimSpace(envString("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"))),
			Headers:     parseHeaders(envString("OTEL_EXPORTER_OTLP_HEADERS", "")),
			Insecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", defaultInsecure(otlpEndpoint)),
			SampleRatio: clamp01(envFloat("OTEL_TRACES_SAMPLE_RATIO", 1.0)),
		},
	}
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

func envInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envFloat(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := parseDurationExtended(v)
	if err != nil {
		return fallback
	}
	return d
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func parseHeaders(raw string) map[string]string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	out := map[string]string{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func defaultInsecure(endpoint string) bool {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return true
	}
	if strings.Contains(endpoint, "://") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return false
		}
		return u.Scheme == "http"
	}
	return strings.HasPrefix(endpoint, "localhost:") ||
		strings.HasPrefix(endpoint, "127.0.0.1:") ||
		strings.HasPrefix(endpoint, "0.0.0.0:")
}
