// Copyright 2024-2026 Aiku AI

// Package config loads relay configuration from a YAML file with environment
// overrides for the secrets, so tokens never need to live in the file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full relay configuration.
type Config struct {
	Slack    SlackConfig    `yaml:"slack"`
	Discord  DiscordConfig  `yaml:"discord"`
	Database DatabaseConfig `yaml:"database"`
	Files    FilesConfig    `yaml:"files"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SlackConfig covers the source side.
type SlackConfig struct {
	// BotToken is the xoxb- token. Overridable via SLACK_BOT_TOKEN.
	BotToken string `yaml:"bot_token"`
	// SigningSecret verifies event callbacks. Overridable via
	// SLACK_SIGNING_SECRET.
	SigningSecret string `yaml:"signing_secret"`
	// DisableChannelJoin skips the startup sweep joining all public
	// channels.
	DisableChannelJoin bool `yaml:"disable_channel_join"`
	// DisableBotLookup turns off echo prevention.
	DisableBotLookup bool `yaml:"disable_bot_lookup"`
}

// DiscordConfig covers the destination side.
type DiscordConfig struct {
	// Token is the bot token. Overridable via DISCORD_TOKEN.
	Token string `yaml:"token"`
	// GuildID is the destination server. Overridable via DISCORD_GUILD_ID.
	GuildID string `yaml:"guild_id"`
}

// DatabaseConfig locates the mapping store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FilesConfig tunes attachment handling.
type FilesConfig struct {
	// Dir is where attachments are downloaded and served from.
	Dir string `yaml:"dir"`
	// DisableDeletion keeps local copies of small attachments after they
	// were embedded.
	DisableDeletion bool `yaml:"disable_deletion"`
}

// ServerConfig tunes the HTTP server hosting the webhook and the re-hosted
// files.
type ServerConfig struct {
	// Addr is the listen address. PORT overrides the port part.
	Addr string `yaml:"addr"`
	// PublicBase is the externally reachable base URL for re-hosted files.
	// Empty leaves oversized-file cards without a public link.
	PublicBase string `yaml:"public_base"`
	// ServeFiles enables the /files/ routes.
	ServeFiles bool `yaml:"serve_files"`
	// Listing enables the plain-text index of stored files.
	Listing bool `yaml:"listing"`
}

// LoggingConfig tunes log output.
type LoggingConfig struct {
	// Level is a zerolog level name: trace, debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "./data/relay.db"},
		Files:    FilesConfig{Dir: "./downloads"},
		Server:   ServerConfig{Addr: ":3000", ServeFiles: true},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads the YAML file at path (a missing file is fine, defaults apply),
// applies environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			// Config entirely from defaults and environment.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	setIfEnv(&c.Slack.BotToken, "SLACK_BOT_TOKEN")
	setIfEnv(&c.Slack.SigningSecret, "SLACK_SIGNING_SECRET")
	setIfEnv(&c.Discord.Token, "DISCORD_TOKEN")
	setIfEnv(&c.Discord.GuildID, "DISCORD_GUILD_ID")
	if port := os.Getenv("PORT"); port != "" {
		c.Server.Addr = ":" + port
	}
}

func setIfEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (c *Config) validate() error {
	var missing []string
	if c.Slack.BotToken == "" {
		missing = append(missing, "slack.bot_token (SLACK_BOT_TOKEN)")
	}
	if c.Slack.SigningSecret == "" {
		missing = append(missing, "slack.signing_secret (SLACK_SIGNING_SECRET)")
	}
	if c.Discord.Token == "" {
		missing = append(missing, "discord.token (DISCORD_TOKEN)")
	}
	if c.Discord.GuildID == "" {
		missing = append(missing, "discord.guild_id (DISCORD_GUILD_ID)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %v", missing)
	}
	if c.Server.PublicBase != "" && !c.Server.ServeFiles {
		return errors.New("server.public_base is set but server.serve_files is false")
	}
	return nil
}
