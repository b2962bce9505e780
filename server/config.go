package main

import (
	"encoding/json"
	"os"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Channel names the review pipeline expects in the channel map.
const (
	ChannelUsernameRequest  = "username-request"
	ChannelWhitelistRequest = "whitelist-request"
	ChannelRejected         = "whitelist-rejected"
	ChannelApproved         = "whitelist-approved"
)

type Config struct {
	Host              string            `json:"host"`
	Port              string            `json:"port"`
	ServerID          string            `json:"ws_server_id"`
	AuthorizedClients []string          `json:"ws_authorized_clients"`
	GuildID           string            `json:"guild_id"`
	OwnerID           string            `json:"owner_id"`
	Channels          map[string]string `json:"channel_ids"` // Name -> platform channel ID
	ApproveMarker     string            `json:"whitelist_approve"`
	RejectMarker      string            `json:"whitelist_reject"`
	SpacerMarker      string            `json:"whitelist_spacer"`
	SetWordMarker     string            `json:"whitelist_set_word"`
	SetUsernameMarker string            `json:"whitelist_set_username"`
	DataDir           string            `json:"data_dir"`
	AdminPasswordHash string            `json:"admin_password_hash"`
	mu                sync.RWMutex
	configFile        string
}

func NewConfig(filename string) *Config {
	if filename == "" {
		filename = "server_config.json"
	}
	return &Config{
		configFile: filename,
		// Defaults
		Host:              "localhost",
		Port:              "8087",
		ServerID:          "censord",
		AuthorizedClients: []string{},
		// Platform adapters overwrite these with real channel IDs; the
		// defaults keep the in-process console surface addressable.
		Channels: map[string]string{
			ChannelUsernameRequest:  ChannelUsernameRequest,
			ChannelWhitelistRequest: ChannelWhitelistRequest,
			ChannelRejected:         ChannelRejected,
			ChannelApproved:         ChannelApproved,
		},
		ApproveMarker:     "✅",
		RejectMarker:      "❌",
		SpacerMarker:      "⬛",
		SetWordMarker:     "🇺",
		SetUsernameMarker: "🇼",
		DataDir:           "data",
	}
}

func (c *Config) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(c.configFile); err == nil {
		data, err := os.ReadFile(c.configFile)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, c); err != nil {
			return err
		}
	}

	// Seeded even on a fresh install, so console auth works out of the box.
	if c.AdminPasswordHash == "" {
		hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		c.AdminPasswordHash = string(hash)
	}

	// Auto-update config file with any missing fields (defaults)
	return c.saveInternal()
}

func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.saveInternal()
}

func (c *Config) saveInternal() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// IsAuthorizedClient reports whether id belongs to the configured valid-ID
// set. Plain equality; client IDs are identifiers, not secrets.
func (c *Config) IsAuthorizedClient(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, known := range c.AuthorizedClients {
		if known == id {
			return true
		}
	}
	return false
}

func (c *Config) Allow(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, known := range c.AuthorizedClients {
		if known == id {
			return nil
		}
	}

	c.AuthorizedClients = append(c.AuthorizedClients, id)
	return c.saveInternal()
}

func (c *Config) Revoke(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	remaining := []string{}
	for _, known := range c.AuthorizedClients {
		if known != id {
			remaining = append(remaining, known)
		}
	}
	c.AuthorizedClients = remaining
	return c.saveInternal()
}

// ChannelID resolves a channel name to its platform ID. Empty if unset.
func (c *Config) ChannelID(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Channels[name]
}

func (c *Config) VerifyAdminPassword(password string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.AdminPasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.AdminPasswordHash), []byte(password)) == nil
}

func (c *Config) SetAdminPassword(password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.AdminPasswordHash = string(hash)
	return c.saveInternal()
}
