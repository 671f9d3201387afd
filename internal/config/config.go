// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextcloud/go_call_client/internal/constants"
	"github.com/spf13/viper"
)

const (
	KeyUsername       = "username"
	KeyDeviceToken    = "device_token"
	KeyCallControlURL = "call_control_url"
	KeySignalingURL   = "signaling_url"
	KeyMediaURL       = "media_url"
	KeyListenAddr     = "listen_addr"
	KeyAPIAddr        = "api_addr"
	KeyControlSecret  = "control_secret"
	KeyLogLevel       = "log_level"
	KeySkipCertVerify = "skip_cert_verify"
	KeyCallType       = "call_type"
	KeyRingTimeout    = "ring_timeout"
	KeyStunServers    = "stun_servers"
	KeyCapture        = "capture"
)

const EnvPrefix = "CALLCLIENT"

type Config struct {
	Username       string        `mapstructure:"username"`
	DeviceToken    string        `mapstructure:"device_token"`
	CallControlURL string        `mapstructure:"call_control_url"`
	SignalingURL   string        `mapstructure:"signaling_url"`
	MediaURL       string        `mapstructure:"media_url"`
	ListenAddr     string        `mapstructure:"listen_addr"`
	APIAddr        string        `mapstructure:"api_addr"`
	ControlSecret  string        `mapstructure:"control_secret"`
	LogLevel       string        `mapstructure:"log_level"`
	SkipCertVerify bool          `mapstructure:"skip_cert_verify"`
	CallType       string        `mapstructure:"call_type"`
	RingTimeout    time.Duration `mapstructure:"ring_timeout"`
	StunServers    []string      `mapstructure:"stun_servers"`
	Capture        string        `mapstructure:"capture"`
}

// SetDefaults registers the default value of every key on v.
func SetDefaults(v *viper.Viper) {
	// Keys without a default still need registering, otherwise Unmarshal
	// never consults AutomaticEnv for them.
	v.SetDefault(KeyUsername, "")
	v.SetDefault(KeyCallControlURL, "")
	v.SetDefault(KeySignalingURL, "")
	v.SetDefault(KeyMediaURL, "")
	v.SetDefault(KeyControlSecret, "")
	v.SetDefault(KeyDeviceToken, "dummy-token")
	v.SetDefault(KeyListenAddr, "127.0.0.1:23000")
	v.SetDefault(KeyAPIAddr, "http://127.0.0.1:23000")
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeySkipCertVerify, false)
	v.SetDefault(KeyCallType, "video")
	v.SetDefault(KeyRingTimeout, constants.DefaultRingTimeout.String())
	v.SetDefault(KeyStunServers, []string{"stun:stun.l.google.com:19302"})
	v.SetDefault(KeyCapture, "static")
}

// New returns a viper instance reading env vars with EnvPrefix and, when
// file is non-empty, the given YAML file.
func New(file string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("reading config %s: %w", file, err)
			}
		}
	}
	return v, nil
}

// Load decodes v into a Config and validates what the daemon needs.
func Load(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.CallControlURL = strings.TrimRight(cfg.CallControlURL, "/")
	if cfg.CallControlURL == "" {
		return nil, fmt.Errorf("%s is required", KeyCallControlURL)
	}
	if cfg.SignalingURL == "" {
		return nil, fmt.Errorf("%s is required", KeySignalingURL)
	}
	if cfg.MediaURL == "" {
		return nil, fmt.Errorf("%s is required", KeyMediaURL)
	}
	if cfg.RingTimeout < 0 {
		return nil, fmt.Errorf("%s must not be negative", KeyRingTimeout)
	}
	switch cfg.Capture {
	case "static", "devices":
	default:
		return nil, fmt.Errorf("%s must be \"static\" or \"devices\", got %q", KeyCapture, cfg.Capture)
	}
	return &cfg, nil
}
