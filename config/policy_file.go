package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PolicyFile is the YAML overlay named by POLICY_FILE. Fields left out keep
// the value from the environment.
//
//	profile: prod_brutal
//	privacy:
//	  max_chars: 20000
//	  default_max_retries: 3
//	stores:
//	  mapping_ttl: 5m
//	auditor:
//	  model: gpt-4o-mini
//	  timeout: 10s
type PolicyFile struct {
	Profile *string        `yaml:"profile"`
	Privacy *PrivacyPolicy `yaml:"privacy"`
	Stores  *StorePolicy   `yaml:"stores"`
	Auditor *AuditorPolicy `yaml:"auditor"`
}

// PrivacyPolicy overrides PrivacyConfig
type PrivacyPolicy struct {
	MaxChars          *int    `yaml:"max_chars"`
	DefaultMaxRetries *int    `yaml:"default_max_retries"`
	DefaultLanguage   *string `yaml:"default_language"`
}

// StorePolicy overrides StoreConfig
type StorePolicy struct {
	EventTTL      *time.Duration `yaml:"event_ttl"`
	MappingTTL    *time.Duration `yaml:"mapping_ttl"`
	StatusTTL     *time.Duration `yaml:"status_ttl"`
	ApprovalTTL   *time.Duration `yaml:"approval_ttl"`
	ReceiptTTL    *time.Duration `yaml:"receipt_ttl"`
	SweepInterval *time.Duration `yaml:"sweep_interval"`
}

// AuditorPolicy overrides AuditorConfig. Endpoint and credentials stay in
// the environment.
type AuditorPolicy struct {
	Enabled *bool          `yaml:"enabled"`
	Model   *string        `yaml:"model"`
	Timeout *time.Duration `yaml:"timeout"`
}

// LoadPolicyFile reads and strictly decodes a policy overlay. Unknown keys
// are an error so a typo cannot silently leave a default in place.
func LoadPolicyFile(path string) (*PolicyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

// ParsePolicy decodes a policy overlay from YAML
func ParsePolicy(data []byte) (*PolicyFile, error) {
	var p PolicyFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		if errors.Is(err, io.EOF) {
			return &p, nil
		}
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &p, nil
}

// Apply copies every set field onto cfg
func (p *PolicyFile) Apply(cfg *Config) {
	if p == nil || cfg == nil {
		return
	}
	setString(&cfg.Profile, p.Profile)

	if pp := p.Privacy; pp != nil {
		setInt(&cfg.Privacy.MaxChars, pp.MaxChars)
		setInt(&cfg.Privacy.DefaultMaxRetries, pp.DefaultMaxRetries)
		setString(&cfg.Privacy.DefaultLanguage, pp.DefaultLanguage)
	}

	if sp := p.Stores; sp != nil {
		setDuration(&cfg.Stores.EventTTL, sp.EventTTL)
		setDuration(&cfg.Stores.MappingTTL, sp.MappingTTL)
		setDuration(&cfg.Stores.StatusTTL, sp.StatusTTL)
		setDuration(&cfg.Stores.ApprovalTTL, sp.ApprovalTTL)
		setDuration(&cfg.Stores.ReceiptTTL, sp.ReceiptTTL)
		setDuration(&cfg.Stores.SweepInterval, sp.SweepInterval)
	}

	if ap := p.Auditor; ap != nil {
		if ap.Enabled != nil {
			cfg.Auditor.Enabled = *ap.Enabled
		}
		setString(&cfg.Auditor.Model, ap.Model)
		setDuration(&cfg.Auditor.Timeout, ap.Timeout)
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setDuration(dst *time.Duration, v *time.Duration) {
	if v != nil {
		*dst = *v
	}
}
