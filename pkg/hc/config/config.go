// Package config loads and persists the hosted-channels daemon's
// configuration as a JSON file, generating sane defaults and a fresh
// node identity key on first run.
package config

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Config holds everything the hosted-channels daemon needs to run: its
// node identity, storage location, protocol timing parameters, and the
// listen addresses for its control and metrics surfaces.
type Config struct {
	NodePrivateKeyHex string

	ChainHashHex string

	DBPath string

	ControlAPIListenAddr string
	MetricsListenAddr    string

	LogLevel string
	LogFile  string

	ChannelDefaults ChannelDefaults

	// CLTVSafetyDeltaBlocks is the minimum margin, in blocks, between an
	// HTLC's CltvExpiry and the chain tip: a received HTLC whose expiry is
	// within it is rejected, and an Active channel whose outgoing HTLC
	// comes within it is suspended and that HTLC failed upstream. Not
	// mandated by any wire format; chosen as a sane default.
	CLTVSafetyDeltaBlocks uint32

	// ReconciliationRetryBound bounds the number of counter-mismatch
	// StateUpdate retries before a channel is moved to Suspended. Not
	// mandated by any wire format; chosen as a sane default.
	ReconciliationRetryBound int

	// ChainTipPollIntervalSec is how often ChannelMaster fans out the
	// current block/blockDay to every channel, in seconds.
	ChainTipPollIntervalSec int

	// PreimageCatcherWorkers sizes the BlockchainPreimageCatcher's worker
	// pool.
	PreimageCatcherWorkers int
}

// ChannelDefaults are applied to InitHostedChannelParams when a host
// offers new hosted channels to a client.
type ChannelDefaults struct {
	CapacityMsat             uint64
	HtlcMinimumMsat          uint64
	MaxAcceptedHtlcs         uint16
	MaxHtlcValueInFlightMsat uint64
}

func defaultConfig() (*Config, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate node key: %w", err)
	}

	return &Config{
		NodePrivateKeyHex:        hex.EncodeToString(priv.Serialize()),
		ChainHashHex:             "",
		DBPath:                   "./hosted-channels-db",
		ControlAPIListenAddr:     "127.0.0.1:9090",
		MetricsListenAddr:        "127.0.0.1:9091",
		LogLevel:                 "info",
		LogFile:                  "./hosted-channels.log",
		CLTVSafetyDeltaBlocks:    72,
		ReconciliationRetryBound: 3,
		ChainTipPollIntervalSec:  60,
		PreimageCatcherWorkers:   8,
		ChannelDefaults: ChannelDefaults{
			CapacityMsat:             1_000_000_000,
			HtlcMinimumMsat:          1_000,
			MaxAcceptedHtlcs:         30,
			MaxHtlcValueInFlightMsat: 500_000_000,
		},
	}, nil
}

// NodePrivateKey parses NodePrivateKeyHex into a usable secp256k1 key.
func (c *Config) NodePrivateKey() (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(c.NodePrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("config: decode node private key: %w", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// Load reads the config at path, creating it with generated defaults if
// it does not yet exist.
func Load(path string) (*Config, error) {
	path, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if _, err = os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err = os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("config: create directory: %w", err)
		}
	}

	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err := defaultConfig()
		if err != nil {
			return nil, err
		}
		if err := Save(cfg, path); err != nil {
			return nil, err
		}
		return cfg, nil
	} else if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
