// Copyright (c) 2024-2026 F2Fintech
// Author: Codevamp Platform Team <platform@f2fintech.com>
//
// Licensed under GPL-2.0 with F2Fintech Additional Terms.
// See LICENSE.md or contact support@f2fintech.com for commercial usage.

package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config carries every environment knob the call engine consumes.
// Values come from environment variables (or an optional config.yaml),
// e.g. SIP_PORT, DEEPGRAM_API_KEY, AWS_S3_BUCKET.
type Config struct {
	HTTPPort int `mapstructure:"http_port"`

	// AI pipeline credentials
	DeepgramAPIKey   string `mapstructure:"deepgram_api_key"`
	OpenAIAPIKey     string `mapstructure:"openai_api_key"`
	AnthropicAPIKey  string `mapstructure:"anthropic_api_key"`
	ElevenLabsAPIKey string `mapstructure:"elevenlabs_api_key"`

	// Object store for call recordings. Recording is a no-op when the
	// bucket is unset.
	AWSRegion          string `mapstructure:"aws_region"`
	AWSAccessKeyID     string `mapstructure:"aws_access_key_id"`
	AWSSecretAccessKey string `mapstructure:"aws_secret_access_key"`
	AWSS3Bucket        string `mapstructure:"aws_s3_bucket"`

	// Hosted telephony (media-stream transport)
	TwilioAccountSID string `mapstructure:"twilio_account_sid"`
	TwilioAuthToken  string `mapstructure:"twilio_auth_token"`
	TwilioFromNumber string `mapstructure:"twilio_from_number"`
	PublicBaseURL    string `mapstructure:"public_base_url"`

	// SIP trunk. The engine runs hosted-only when SIPServer is unset.
	SIPServer         string `mapstructure:"sip_server"`
	SIPUsername       string `mapstructure:"sip_username"`
	SIPPassword       string `mapstructure:"sip_password"`
	SIPRealm          string `mapstructure:"sip_realm"`
	SIPTransport      string `mapstructure:"sip_transport"`
	SIPPort           int    `mapstructure:"sip_port" validate:"gt=0,lte=65535"`
	RTPPortRangeStart int    `mapstructure:"rtp_port_range_start" validate:"gt=0"`
	RTPPortRangeEnd   int    `mapstructure:"rtp_port_range_end" validate:"gtfield=RTPPortRangeStart"`
	PublicIPEndpoint  string `mapstructure:"public_ip_endpoint"`
	CountryCodePrefix string `mapstructure:"country_code_prefix"`

	// Persistence
	PostgresDSN string `mapstructure:"postgres_dsn"`
	RedisAddr   string `mapstructure:"redis_addr"`

	// Call defaults, overridable per agent
	SilenceTimeoutSeconds int `mapstructure:"silence_timeout_seconds" validate:"gt=0"`
	MaxDurationSeconds    int `mapstructure:"max_duration_seconds" validate:"gt=0"`
}

// Load reads configuration from the environment (and config.yaml when
// present in the working directory) and validates it.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("http_port", 8080)
	v.SetDefault("sip_port", 5060)
	v.SetDefault("sip_transport", "udp")
	v.SetDefault("rtp_port_range_start", 10000)
	v.SetDefault("rtp_port_range_end", 20000)
	v.SetDefault("public_ip_endpoint", "https://api.ipify.org")
	v.SetDefault("country_code_prefix", "91")
	v.SetDefault("silence_timeout_seconds", 30)
	v.SetDefault("max_duration_seconds", 600)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// bindEnvKeys forces viper to consult the environment for every key even
// when no config file sets it (AutomaticEnv alone does not populate
// Unmarshal for absent keys).
func bindEnvKeys(v *viper.Viper) {
	keys := []string{
		"http_port",
		"deepgram_api_key", "openai_api_key", "anthropic_api_key", "elevenlabs_api_key",
		"aws_region", "aws_access_key_id", "aws_secret_access_key", "aws_s3_bucket",
		"twilio_account_sid", "twilio_auth_token", "twilio_from_number", "public_base_url",
		"sip_server", "sip_username", "sip_password", "sip_realm", "sip_transport",
		"sip_port", "rtp_port_range_start", "rtp_port_range_end",
		"public_ip_endpoint", "country_code_prefix",
		"postgres_dsn", "redis_addr",
		"silence_timeout_seconds", "max_duration_seconds",
	}
	for _, k := range keys {
		_ = v.BindEnv(k)
	}
}
