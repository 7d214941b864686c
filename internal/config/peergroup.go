// Package config loads the YAML-described peer group a Channel bootstraps
// from: the concrete stand-in for the spec's "peer count and own id come
// from the Channel at construction".
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PeerGroup describes every process address in a fixed-size group plus
// which index is "self" for the process loading this config.
type PeerGroup struct {
	// Self is this process's ProcessID, an index into Peers.
	Self int `yaml:"self"`

	// Peers lists "host:port" for every process in the group, ordered by
	// ProcessID.
	Peers []string `yaml:"peers"`

	// DialTimeout bounds a single dial attempt against a peer.
	DialTimeout time.Duration `yaml:"dial_timeout"`

	// DialBackoff is the initial delay between dial retries; it doubles
	// up to a one second ceiling.
	DialBackoff time.Duration `yaml:"dial_backoff"`
}

// Load reads and validates a PeerGroup from a YAML file.
func Load(path string) (*PeerGroup, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("distmon/config: read %s: %w", path, err)
	}

	var group PeerGroup
	if err := yaml.Unmarshal(data, &group); err != nil {
		return nil, fmt.Errorf("distmon/config: parse %s: %w", path, err)
	}

	group.applyDefaults()
	if err := group.Validate(); err != nil {
		return nil, err
	}
	return &group, nil
}

func (g *PeerGroup) applyDefaults() {
	if g.DialTimeout <= 0 {
		g.DialTimeout = 5 * time.Second
	}
	if g.DialBackoff <= 0 {
		g.DialBackoff = 100 * time.Millisecond
	}
}

// Validate reports whether the group is well-formed: Self must index into
// Peers, and the group must have at least one member.
func (g *PeerGroup) Validate() error {
	if len(g.Peers) == 0 {
		return fmt.Errorf("distmon/config: peer group is empty")
	}
	if g.Self < 0 || g.Self >= len(g.Peers) {
		return fmt.Errorf("distmon/config: self index %d out of range [0, %d)", g.Self, len(g.Peers))
	}
	return nil
}

// SelfAddress returns this process's own advertised address.
func (g *PeerGroup) SelfAddress() string {
	return g.Peers[g.Self]
}
