// Package config loads the node's TOML configuration, generating a
// default file with a freshly minted key-pair when none exists yet.
// See SPEC_FULL.md §4.11.
package config

import (
	"crypto/sha512"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/shumy-tools/fedpi/internal/group"
)

var ErrPeerKeyNotFound = errors.New("config: this node's public key is not listed in [peers]")

// Peer is one entry of the configured peer list, in declaration order.
type Peer struct {
	Name string
	PKey group.Point
}

// Config is the node's resolved runtime configuration.
type Config struct {
	Name   string
	Secret group.Scalar
	PKey   group.Point

	Threshold int
	Port      int

	MngKey group.Point // management key authorized to open DKG negotiations

	PeersHash []byte
	Peers     []Peer
}

// KeyIndex returns this node's position within Peers, matching the
// index every IndSignature the node produces is bound to.
func (c Config) KeyIndex() (int, error) {
	for i, p := range c.Peers {
		if p.PKey.Equal(c.PKey) {
			return i, nil
		}
	}
	return 0, ErrPeerKeyNotFound
}

// tomlConfig mirrors the file's on-disk shape
// (original_source/f-node/src/config.rs::TomlConfig).
type tomlConfig struct {
	Name   string `toml:"name"`
	Secret string `toml:"secret"`
	PKey   string `toml:"pkey"`

	Threshold int `toml:"threshold"`
	Port      int `toml:"port"`

	MngKey string `toml:"mng_key"`

	Peers map[string]tomlPeer `toml:"peers"`
}

type tomlPeer struct {
	Name string `toml:"name"`
	PKey string `toml:"pkey"`
}

// Load reads <home>/config.toml, writing a freshly generated default
// file first if one doesn't exist yet.
func Load(home string) (Config, error) {
	path := filepath.Join(home, "config.toml")

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		raw, err = writeDefault(path)
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	var t tomlConfig
	if _, err := toml.Decode(string(raw), &t); err != nil {
		return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
	}

	return resolve(t)
}

func resolve(t tomlConfig) (Config, error) {
	secret, err := group.ScalarFromBase58(t.Secret)
	if err != nil {
		return Config{}, fmt.Errorf("config: secret: %w", err)
	}

	pkey, err := group.PointFromBase58(t.PKey)
	if err != nil {
		return Config{}, fmt.Errorf("config: pkey: %w", err)
	}

	mngKey, err := group.PointFromBase58(t.MngKey)
	if err != nil {
		return Config{}, fmt.Errorf("config: mng_key: %w", err)
	}

	peers := make([]Peer, 0, len(t.Peers))
	h := sha512.New()
	for i := 0; i < len(t.Peers); i++ {
		idx := strconv.Itoa(i)
		tp, ok := t.Peers[idx]
		if !ok {
			return Config{}, fmt.Errorf("config: expected peer at index %s", idx)
		}

		ppkey, err := group.PointFromBase58(tp.PKey)
		if err != nil {
			return Config{}, fmt.Errorf("config: peer %q pkey: %w", tp.Name, err)
		}
		h.Write(ppkey.Bytes())

		peers = append(peers, Peer{Name: tp.Name, PKey: ppkey})
	}

	return Config{
		Name:      t.Name,
		Secret:    secret,
		PKey:      pkey,
		Threshold: t.Threshold,
		Port:      t.Port,
		MngKey:    mngKey,
		PeersHash: h.Sum(nil),
		Peers:     peers,
	}, nil
}

func writeDefault(path string) ([]byte, error) {
	secret := group.RandomScalar()
	pkey := group.ScalarBaseMult(secret)

	content := fmt.Sprintf(`name = "<no-name>"
secret = %q
pkey = %q

threshold = 0
port = 26658

mng_key = "<public-key-base58>"

[peers]
`, secret.String(), pkey.String())

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("config: create home dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return nil, fmt.Errorf("config: write default: %w", err)
	}

	return []byte(content), nil
}
