package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML form of the configuration. Every key maps onto the
// environment variable of the same setting, so a file value behaves exactly
// like that variable being set.
type fileConfig struct {
	ListenAddr      *string `yaml:"listen_addr"`
	Mode            *string `yaml:"mode"`
	LogFormat       *string `yaml:"log_format"`
	LogLevel        *string `yaml:"log_level"`
	ShutdownTimeout *string `yaml:"shutdown_timeout"`

	AllowedOrigins  []string `yaml:"allowed_origins"`
	MaxConnections  *int     `yaml:"max_connections"`
	SendQueueLength *int     `yaml:"send_queue_length"`

	SignalingWSIdleTimeout        *string `yaml:"signaling_ws_idle_timeout"`
	SignalingWSPingInterval       *string `yaml:"signaling_ws_ping_interval"`
	MaxSignalingMessageBytes      *int64  `yaml:"max_signaling_message_bytes"`
	MaxSignalingMessagesPerSecond *int    `yaml:"max_signaling_messages_per_second"`

	ICEServers     []fileICEServer `yaml:"ice_servers"`
	STUNURLs       []string        `yaml:"stun_urls"`
	TURNURLs       []string        `yaml:"turn_urls"`
	TURNUsername   *string         `yaml:"turn_username"`
	TURNCredential *string         `yaml:"turn_credential"`

	TURNRESTSharedSecret   *string `yaml:"turn_rest_shared_secret"`
	TURNRESTTTLSeconds     *int64  `yaml:"turn_rest_ttl_seconds"`
	TURNRESTUsernamePrefix *string `yaml:"turn_rest_username_prefix"`
}

type fileICEServer struct {
	URLs       stringOrStringSlice `yaml:"urls" json:"urls"`
	Username   string              `yaml:"username,omitempty" json:"username,omitempty"`
	Credential string              `yaml:"credential,omitempty" json:"credential,omitempty"`
}

// UnmarshalYAML accepts a scalar or a sequence, like the JSON form does.
func (s *stringOrStringSlice) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*s = []string{node.Value}
		return nil
	}
	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

func readFile(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config file: %w", err)
	}
	defer f.Close()

	values, err := parseFile(f)
	if err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return values, nil
}

func parseFile(r io.Reader) (map[string]string, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var fc fileConfig
	if err := dec.Decode(&fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	values := make(map[string]string)
	setString := func(key string, v *string) {
		if v != nil {
			values[key] = *v
		}
	}
	setInt := func(key string, v *int64) {
		if v != nil {
			values[key] = strconv.FormatInt(*v, 10)
		}
	}
	setList := func(key string, v []string) {
		if len(v) > 0 {
			values[key] = strings.Join(v, ",")
		}
	}
	intPtr := func(v *int) *int64 {
		if v == nil {
			return nil
		}
		n := int64(*v)
		return &n
	}

	setString(envVarListenAddr, fc.ListenAddr)
	setString(envVarMode, fc.Mode)
	setString(envVarLogFormat, fc.LogFormat)
	setString(envVarLogLevel, fc.LogLevel)
	setString(envVarShutdownTimeout, fc.ShutdownTimeout)
	setList(envVarAllowedOrigins, fc.AllowedOrigins)
	setInt(envVarMaxConnections, intPtr(fc.MaxConnections))
	setInt(envVarSendQueueLength, intPtr(fc.SendQueueLength))
	setString(envVarSignalingWSIdleTimeout, fc.SignalingWSIdleTimeout)
	setString(envVarSignalingWSPingInterval, fc.SignalingWSPingInterval)
	setInt(envVarMaxSignalingMessageBytes, fc.MaxSignalingMessageBytes)
	setInt(envVarMaxSignalingMessagesPerSecond, intPtr(fc.MaxSignalingMessagesPerSecond))
	setList(envStunURLs, fc.STUNURLs)
	setList(envTurnURLs, fc.TURNURLs)
	setString(envTurnUsername, fc.TURNUsername)
	setString(envTurnCredential, fc.TURNCredential)
	setString(envVarTURNRESTSharedSecret, fc.TURNRESTSharedSecret)
	setInt(envVarTURNRESTTTLSeconds, fc.TURNRESTTTLSeconds)
	setString(envVarTURNRESTUsernamePrefix, fc.TURNRESTUsernamePrefix)

	if len(fc.ICEServers) > 0 {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(fc.ICEServers); err != nil {
			return nil, fmt.Errorf("ice_servers: %w", err)
		}
		values[envICEServersJSON] = strings.TrimSpace(buf.String())
	}
	return values, nil
}
