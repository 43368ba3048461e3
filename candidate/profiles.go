package candidate

import (
	_ "embed"
	"fmt"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var defaultSites []byte

// Profile is the curated per-site knowledge for a host: selectors known to
// point directly at reply/comment/post bodies, sub-elements to strip from
// them, and flags for hosts whose DOM is unsafe to walk generically.
type Profile struct {
	// Hosts this profile applies to ("www." prefixes are normalized away).
	Hosts []string `yaml:"hosts"`
	// TrustedSelectors point directly at content bodies. Matches skip the
	// generic UI-pattern filters.
	TrustedSelectors []string `yaml:"trusted_selectors"`
	// ExcludedSelectors are non-content sub-elements stripped even inside
	// trusted matches: engagement counters, usernames, action buttons.
	ExcludedSelectors []string `yaml:"excluded_selectors"`
	// MinTextLength overrides the global floor for trusted matches. Social
	// replies are short; the selector already guarantees relevance.
	MinTextLength int `yaml:"min_text_length"`
	// DisableGenericWalk turns off pass 2 entirely. Set for hosts with
	// heavy DOM virtualization where a generic walk misfires.
	DisableGenericWalk bool `yaml:"disable_generic_walk"`
	// Sweep makes the mutation monitor re-scan trusted selectors
	// periodically instead of interpreting mutation records. For hosts
	// that aggressively recycle DOM nodes.
	Sweep bool `yaml:"sweep"`
}

// Profiles is a host-indexed profile table.
type Profiles struct {
	byHost map[string]*Profile
}

type profilesFile struct {
	Profiles []Profile `yaml:"profiles"`
}

// LoadProfiles parses a YAML profile table.
func LoadProfiles(data []byte) (*Profiles, error) {
	var f profilesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("candidate: parse profiles: %w", err)
	}
	p := &Profiles{byHost: make(map[string]*Profile)}
	for i := range f.Profiles {
		prof := &f.Profiles[i]
		if prof.MinTextLength <= 0 {
			prof.MinTextLength = 20
		}
		for _, h := range prof.Hosts {
			p.byHost[h] = prof
		}
	}
	return p, nil
}

var (
	defaultProfilesOnce sync.Once
	defaultProfiles     *Profiles
)

// DefaultProfiles returns the embedded site table, parsed once.
func DefaultProfiles() *Profiles {
	defaultProfilesOnce.Do(func() {
		p, err := LoadProfiles(defaultSites)
		if err != nil {
			panic(err)
		}
		defaultProfiles = p
	})
	return defaultProfiles
}

// For returns the profile for a host, or nil when the host is unknown.
func (p *Profiles) For(host string) *Profile {
	if p == nil {
		return nil
	}
	return p.byHost[host]
}
