package config

import (
	"fmt"
	"regexp"
	"time"

	"github.com/andycufari/portero/internal/anonymize"
	"github.com/andycufari/portero/internal/mcp"
	"github.com/andycufari/portero/internal/policy"
	"github.com/andycufari/portero/internal/store"
)

// Config is the gateway's full configuration surface, assembled from the
// three configuration documents spec §6 describes (backends, replacements,
// policies) plus the server/approval-channel/state settings needed to run
// the process. ${VAR} placeholders in any string field have already been
// substituted by LoadRaw's os.ExpandEnv pass by the time this struct is
// decoded.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	State          StateConfig          `yaml:"state"`
	Backends       []mcp.ServerConfig   `yaml:"backends"`
	Replacements   []ReplacementConfig  `yaml:"replacements"`
	Policies       PolicyConfig         `yaml:"policies"`
	ApprovalChannel ApprovalChannelConfig `yaml:"approval_channel"`
	Audit          AuditConfig          `yaml:"audit"`
}

// ServerConfig configures the HTTP listener (spec §6, out-of-scope
// interface — specified here only so cmd/portero has something to bind).
type ServerConfig struct {
	ListenAddr   string `yaml:"listen_addr"`
	BearerToken  string `yaml:"bearer_token"`
	TLSCertFile  string `yaml:"tls_cert_file"`
	TLSKeyFile   string `yaml:"tls_key_file"`
	MaxBodyBytes int64  `yaml:"max_body_bytes"`
}

// StateConfig locates the State Store's base directory (spec §6 "Persisted-
// state layout").
type StateConfig struct {
	Dir string `yaml:"dir"`
}

// ReplacementConfig is the on-disk shape of an anonymizer rule (spec §3).
type ReplacementConfig struct {
	Fake                string `yaml:"fake"`
	Real                string `yaml:"real"`
	Bidirectional       bool   `yaml:"bidirectional"`
	// CaseInsensitive opts a rule into case-folded matching. Omitted (the
	// zero value, false) means case-sensitive, per spec §3/§4.5 — matching
	// must default to sensitive, not the other way around.
	CaseInsensitive     bool   `yaml:"case_insensitive"`
	ResponseReplacement string `yaml:"response_replacement"`
}

// ToRule converts the configuration entry into an anonymize.Rule,
// validating the "fake is never empty" invariant (spec §3).
func (r ReplacementConfig) ToRule() (anonymize.Rule, error) {
	if r.Fake == "" {
		return anonymize.Rule{}, fmt.Errorf("config: replacement rule has empty fake value")
	}
	return anonymize.Rule{
		Fake:                r.Fake,
		Real:                r.Real,
		Bidirectional:       r.Bidirectional,
		CaseSensitive:       !r.CaseInsensitive,
		ResponseReplacement: r.ResponseReplacement,
	}, nil
}

// PolicyEntryConfig is one static policy entry (spec §3 "Policy entry").
type PolicyEntryConfig struct {
	Pattern string              `yaml:"pattern"`
	Action  store.PolicyAction  `yaml:"action"`
}

// PolicyConfig is the static-configuration half of the Policy Resolver
// (spec §4.6 tiers 2-4).
type PolicyConfig struct {
	// Exact maps exact tool names to an action (tier 2).
	Exact map[string]store.PolicyAction `yaml:"exact"`
	// Patterns are tried in configuration order (tier 3).
	Patterns []PolicyEntryConfig `yaml:"patterns"`
	// Default is applied when nothing else matches (tier 4). Defaults to
	// "allow" when unset, matching policy.Resolver's own fallback.
	Default store.PolicyAction `yaml:"default"`
}

// ToStaticConfig converts the decoded policy configuration into the shape
// policy.Resolver consumes.
func (p PolicyConfig) ToStaticConfig() policy.StaticConfig {
	entries := make([]policy.Entry, 0, len(p.Patterns))
	for _, e := range p.Patterns {
		entries = append(entries, policy.Entry{Pattern: e.Pattern, Action: e.Action})
	}
	return policy.StaticConfig{
		Exact:    p.Exact,
		Patterns: entries,
		Default:  p.Default,
	}
}

// ApprovalChannelConfig configures the out-of-band approval transport
// (spec §4.8).
type ApprovalChannelConfig struct {
	PairingSecret string              `yaml:"pairing_secret"`
	BatchWindow   time.Duration       `yaml:"batch_window"`
	MaxPerFlush   int                 `yaml:"max_per_flush"`
	Slack         *SlackConfig        `yaml:"slack"`
	Discord       *DiscordConfig      `yaml:"discord"`
	Telegram      *TelegramConfig     `yaml:"telegram"`
}

// SlackConfig carries the bot/app tokens the slack adapter needs.
type SlackConfig struct {
	BotToken string `yaml:"bot_token"`
	AppToken string `yaml:"app_token"`
}

// DiscordConfig carries the bot token the discord adapter needs.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// TelegramConfig carries the bot token the telegram adapter needs.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
}

// AuditConfig is a thin yaml-decodable mirror of audit.Config, kept
// separate so internal/audit has no dependency on internal/config.
type AuditConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Output           string  `yaml:"output"`
	IncludeArguments bool    `yaml:"include_arguments"`
}

// Load reads path (resolving $include and ${VAR} substitution via LoadRaw)
// and decodes it into a Config. Unresolved ${VAR} placeholders are left as
// literal text; the caller (backend connection setup) is responsible for
// skipping any backend whose resulting configuration is incomplete (spec
// §6: "unresolved placeholders cause the owning backend to be skipped at
// startup").
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: loading %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8080"
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 10 << 20 // 10 MiB, spec §6
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = "./data"
	}
	if cfg.Policies.Default == "" {
		cfg.Policies.Default = store.ActionAllow
	}
	if cfg.ApprovalChannel.BatchWindow <= 0 {
		cfg.ApprovalChannel.BatchWindow = 3 * time.Second
	}
	if cfg.ApprovalChannel.MaxPerFlush <= 0 {
		cfg.ApprovalChannel.MaxPerFlush = 25
	}
}

// placeholderPattern matches a literal, unresolved "${VAR}" left over after
// os.ExpandEnv: a variable that was never set in the environment.
var placeholderPattern = regexp.MustCompile(`\$\{[A-Za-z_][A-Za-z0-9_]*\}`)

// hasUnresolvedPlaceholder reports whether s still contains a literal
// "${VAR}" token.
func hasUnresolvedPlaceholder(s string) bool {
	return placeholderPattern.MatchString(s)
}

// unresolvedField returns the first unresolved "${VAR}" placeholder found
// among a backend's string-valued configuration fields, or "" if none.
func unresolvedField(b mcp.ServerConfig) string {
	candidates := []string{b.Command, b.WorkDir, b.URL}
	candidates = append(candidates, b.Args...)
	for _, v := range b.Env {
		candidates = append(candidates, v)
	}
	for _, v := range b.Headers {
		candidates = append(candidates, v)
	}
	for _, c := range candidates {
		if hasUnresolvedPlaceholder(c) {
			return c
		}
	}
	return ""
}

// ResolvedBackends partitions cfg.Backends into those whose configuration
// fully resolved and those left with an unresolved ${VAR} placeholder.
// Skipped backends are non-fatal (spec §6: "unresolved placeholders cause
// the owning backend to be skipped at startup, non-fatal for other
// backends").
func (cfg *Config) ResolvedBackends() (resolved []mcp.ServerConfig, skipped []SkippedBackend) {
	for _, b := range cfg.Backends {
		if field := unresolvedField(b); field != "" {
			skipped = append(skipped, SkippedBackend{ID: b.ID, Placeholder: field})
			continue
		}
		resolved = append(resolved, b)
	}
	return resolved, skipped
}

// SkippedBackend records a backend dropped at startup due to an unresolved
// configuration placeholder.
type SkippedBackend struct {
	ID          string
	Placeholder string
}
