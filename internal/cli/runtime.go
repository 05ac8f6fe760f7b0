package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"

	"github.com/gzhole/agentgate/internal/approval"
	"github.com/gzhole/agentgate/internal/audit"
	"github.com/gzhole/agentgate/internal/classify"
	"github.com/gzhole/agentgate/internal/config"
	"github.com/gzhole/agentgate/internal/gate"
	"github.com/gzhole/agentgate/internal/normalize"
	"github.com/gzhole/agentgate/internal/policy"
)

var (
	warnColor  = color.New(color.FgYellow)
	blockColor = color.New(color.FgRed, color.Bold)
	allowColor = color.New(color.FgGreen)
	dimColor   = color.New(color.Faint)
)

// warnf writes an operator diagnostic to stderr. The decision record is the
// audit log, not this stream.
func warnf(format string, args ...interface{}) {
	warnColor.Fprintf(os.Stderr, "[agentgate] warning: "+format+"\n", args...)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigDir:   configDir,
		LogPath:     logPath,
		ProjectRoot: projectRoot,
		ApprovalTTL: approvalTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}
	return cfg, nil
}

// loadEngine builds the tier engine from policy.yaml plus enabled packs.
// Broken packs are skipped with a warning.
func loadEngine(cfg *config.Config) (*policy.Engine, error) {
	pol, err := policy.Load(cfg.PolicyPath)
	if err != nil {
		return nil, fmt.Errorf("policy load failed: %w", err)
	}

	merged, infos, err := policy.LoadPacks(cfg.PacksDir, pol)
	if err != nil {
		warnf("packs load failed: %v", err)
	} else {
		pol = merged
	}
	for _, info := range infos {
		if info.Err != nil {
			warnf("pack %s skipped: %v", info.Name, info.Err)
		}
	}

	home, _ := os.UserHomeDir()
	engine, err := policy.NewEngine(pol, home)
	if err != nil {
		return nil, fmt.Errorf("engine init failed: %w", err)
	}
	engine.GuardDir(cfg.ConfigDir)
	return engine, nil
}

// newGateway wires the engine, the classifiers and an approval store. A nil
// store means the shared file store under the config directory.
func newGateway(cfg *config.Config, store approval.Store) (*gate.Gateway, error) {
	engine, err := loadEngine(cfg)
	if err != nil {
		return nil, err
	}
	opts := classify.Options{
		AllowedPrefixes: cfg.AllowedPrefixes(),
		ScanLimit:       cfg.ScanLimit,
	}
	if store == nil {
		store = approval.NewFileStore(cfg.ApprovalDir, cfg.ApprovalTTL, nil)
	}
	return gate.New(gate.Options{
		Engine: engine,
		Pre:    classify.NewRegistry(classify.PreTool(opts)...).Without(cfg.DisabledGuards...),
		Post:   classify.NewRegistry(classify.PostTool(opts)...).Without(cfg.DisabledGuards...),
		Store:  store,
		TTL:    cfg.ApprovalTTL,
		Warn:   warnf,
	}), nil
}

// recordVerdict appends the decision to the audit log. Failures are
// reported and otherwise ignored.
func recordVerdict(cfg *config.Config, req *normalize.Request, v gate.Verdict, source, userAction string, runErr error) {
	logger, err := audit.New(cfg.LogPath)
	if err != nil {
		warnf("audit log unavailable: %v", err)
		return
	}
	defer logger.Close()

	entry := audit.Entry{
		Outcome:    string(v.Outcome),
		Tool:       string(req.Tool),
		HostTool:   req.HostTool,
		Phase:      string(req.Phase),
		Payload:    req.RawPayload,
		Reason:     v.Reason,
		Rules:      v.Rules,
		Targets:    v.Targets,
		Advisory:   v.Advisory,
		Source:     source,
		UserAction: userAction,
	}
	if v.StoreErr != nil {
		entry.Error = v.StoreErr.Error()
	}
	if runErr != nil {
		entry.Error = runErr.Error()
	}
	if err := logger.Log(entry); err != nil {
		warnf("audit log failed: %v", err)
	}
}

// recordNote writes the minimal abstain entry for an event that could not
// be evaluated.
func recordNote(cfg *config.Config, source, hostTool string, cause error) {
	logger, err := audit.New(cfg.LogPath)
	if err != nil {
		warnf("audit log unavailable: %v", err)
		return
	}
	defer logger.Close()

	entry := audit.Entry{
		Outcome:  string(gate.Abstain),
		Tool:     "unknown",
		HostTool: hostTool,
		Reason:   "not applicable: " + cause.Error(),
		Source:   source,
	}
	if err := logger.Log(entry); err != nil {
		warnf("audit log failed: %v", err)
	}
}
