package policy

// Tier is the policy tier a request landed in.
type Tier int

const (
	// TierPassthrough means no rule matched; the host default applies.
	TierPassthrough Tier = iota
	// TierSafeAllow is the safe allowlist.
	TierSafeAllow
	// TierHardBlock is the hard blocklist. Nothing overrides it.
	TierHardBlock
)

func (t Tier) String() string {
	switch t {
	case TierSafeAllow:
		return "safe-allow"
	case TierHardBlock:
		return "hard-block"
	}
	return "passthrough"
}

// Action is what a policy.yaml rule does when it matches.
type Action string

const (
	ActionBlock Action = "block"
	ActionAllow Action = "allow"
)

// Policy holds the operator-supplied rules layered on top of the built-in
// tables.
type Policy struct {
	Version string `yaml:"version"`
	// ProtectedPaths are globs ("~/.secrets/**") whose any touch is a hard
	// block.
	ProtectedPaths []string `yaml:"protected_paths"`
	Rules          []Rule   `yaml:"rules"`
}

type Rule struct {
	ID     string `yaml:"id"`
	Match  Match  `yaml:"match"`
	Action Action `yaml:"action"`
	Reason string `yaml:"reason"`
}

type Match struct {
	CommandExact  string           `yaml:"command_exact,omitempty"`
	CommandPrefix []string         `yaml:"command_prefix,omitempty"`
	CommandRegex  string           `yaml:"command_regex,omitempty"`
	PathGlob      []string         `yaml:"path_glob,omitempty"`
	Structural    *StructuralMatch `yaml:"structural,omitempty"`
}

// StructuralMatch matches a single segment of the parsed command instead
// of the raw string, so flag order and sudo wrapping do not matter.
type StructuralMatch struct {
	Executable StringOrList `yaml:"executable,omitempty"` // "rm" or ["rm", "unlink"]
	SubCommand string       `yaml:"subcommand,omitempty"` // "install" for "npm install"

	// Flags are letters ("r") or long names ("recursive").
	FlagsAll  []string `yaml:"flags_all,omitempty"`
	FlagsAny  []string `yaml:"flags_any,omitempty"`
	FlagsNone []string `yaml:"flags_none,omitempty"`

	// Globs over positional arguments.
	ArgsAny  []string `yaml:"args_any,omitempty"`
	ArgsNone []string `yaml:"args_none,omitempty"`

	PipeTo   []string `yaml:"pipe_to,omitempty"`   // segment feeds one of these
	PipeFrom []string `yaml:"pipe_from,omitempty"` // segment reads from one of these
}

// StringOrList allows YAML fields to accept either a single string or a list.
// "rm" → ["rm"], ["rm", "unlink"] → ["rm", "unlink"]
type StringOrList []string

func (s *StringOrList) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var single string
	if err := unmarshal(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var list []string
	if err := unmarshal(&list); err != nil {
		return err
	}
	*s = list
	return nil
}

// Result is the engine's answer for one request.
type Result struct {
	Tier    Tier
	Rule    string
	Reason  string
	Targets []string
}
