// Package policy implements the Host Router's four-lane dispatch
// authorization matrix.
package policy

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Lane is one of the four execution lane classes a group_folder belongs to.
type Lane string

const (
	LaneMain                Lane = "main"
	LaneControllerDeveloper Lane = "controller-developer"
	LaneControllerObserver  Lane = "controller-observer"
	LaneWorker              Lane = "worker"
)

// Checker is the interface the Host Router uses to authorize dispatch.
type Checker interface {
	LaneForGroup(groupFolder string) Lane
	AuthorizeDispatch(source Lane, target Lane) (bool, string)
	PolicyVersion() string
}

// LaneRule maps a group_folder prefix to a lane class.
type LaneRule struct {
	Prefix string `yaml:"prefix"`
	Lane   string `yaml:"lane"`
}

// Policy is the serializable policy data: the lane-prefix table used to
// classify an inbound group_folder. The authorization matrix itself
// (main / controller-developer / controller-observer / worker) is fixed —
// no ad-hoc per-lane behavior outside the documented matrix.
type Policy struct {
	LaneRules []LaneRule `yaml:"lane_rules"`
}

// Default classifies "main" exactly, and everything else by the
// controller-dev-/controller-obs-/worker- prefixes; groups matching none of
// these are treated as self-scoped worker groups.
func Default() Policy {
	return Policy{
		LaneRules: []LaneRule{
			{Prefix: "main", Lane: string(LaneMain)},
			{Prefix: "controller-dev-", Lane: string(LaneControllerDeveloper)},
			{Prefix: "controller-obs-", Lane: string(LaneControllerObserver)},
			{Prefix: "worker-", Lane: string(LaneWorker)},
		},
	}
}

func Load(path string) (Policy, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("read policy: %w", err)
	}
	if len(data) == 0 {
		return Default(), nil
	}
	var p Policy
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Policy{}, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

func (p Policy) validate() error {
	for _, rule := range p.LaneRules {
		switch Lane(rule.Lane) {
		case LaneMain, LaneControllerDeveloper, LaneControllerObserver, LaneWorker:
		default:
			return fmt.Errorf("unknown lane %q in rule for prefix %q", rule.Lane, rule.Prefix)
		}
	}
	return nil
}

// LaneForGroup classifies a group_folder by its longest matching prefix
// rule. A group_folder matching no rule is self-scoped: LaneWorker.
func (p Policy) LaneForGroup(groupFolder string) Lane {
	best := ""
	bestLane := LaneWorker
	for _, rule := range p.LaneRules {
		if !strings.HasPrefix(groupFolder, rule.Prefix) {
			continue
		}
		if len(rule.Prefix) > len(best) {
			best = rule.Prefix
			bestLane = Lane(rule.Lane)
		}
	}
	return bestLane
}

// AuthorizeDispatch applies the fixed lane authorization matrix:
//   - main may dispatch to any group
//   - controller-developer may dispatch only to worker groups
//   - controller-observer may not dispatch at all
//   - worker groups are self-scoped and may not dispatch
func (p Policy) AuthorizeDispatch(source Lane, target Lane) (bool, string) {
	switch source {
	case LaneMain:
		return true, ""
	case LaneControllerDeveloper:
		if target == LaneWorker {
			return true, ""
		}
		return false, "controller-developer lane may only dispatch to worker groups"
	case LaneControllerObserver:
		return false, "controller-observer lane may not dispatch"
	case LaneWorker:
		return false, "worker lane is self-scoped and may not dispatch"
	default:
		return false, fmt.Sprintf("unknown lane %q may not dispatch", source)
	}
}

func (p Policy) PolicyVersion() string {
	return policyVersionFor(p)
}

func policyVersionFor(p Policy) string {
	h := fnv.New64a()
	for _, rule := range p.LaneRules {
		_, _ = h.Write([]byte(strings.ToLower(strings.TrimSpace(rule.Prefix)) + "=" + strings.ToLower(strings.TrimSpace(rule.Lane)) + "|"))
	}
	return "policy-" + strconv.FormatUint(h.Sum64(), 16)
}

// LivePolicy wraps a Policy with thread-safe mutation and persistence,
// so the lane-prefix table can be hot-reloaded without restarting the host.
type LivePolicy struct {
	mu   sync.RWMutex
	data Policy
	path string // file path for persistence; empty = no persistence
}

// NewLivePolicy creates a LivePolicy from an initial Policy snapshot.
func NewLivePolicy(initial Policy, path string) *LivePolicy {
	return &LivePolicy{data: initial, path: path}
}

func (lp *LivePolicy) LaneForGroup(groupFolder string) Lane {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.LaneForGroup(groupFolder)
}

func (lp *LivePolicy) AuthorizeDispatch(source, target Lane) (bool, string) {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return lp.data.AuthorizeDispatch(source, target)
}

func (lp *LivePolicy) PolicyVersion() string {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	return policyVersionFor(lp.data)
}

// Reload replaces the policy data from a fresh Policy snapshot.
func (lp *LivePolicy) Reload(p Policy) {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	lp.data = p
}

// Snapshot returns a copy of the current policy data.
func (lp *LivePolicy) Snapshot() Policy {
	lp.mu.RLock()
	defer lp.mu.RUnlock()
	cp := lp.data
	cp.LaneRules = append([]LaneRule(nil), lp.data.LaneRules...)
	return cp
}

// ReloadFromFile updates the live policy only when the incoming file parses
// and validates. On error, the previous policy remains active (fail-closed).
func ReloadFromFile(lp *LivePolicy, path string) error {
	if lp == nil {
		return fmt.Errorf("nil live policy")
	}
	p, err := Load(path)
	if err != nil {
		return err
	}
	lp.Reload(p)
	return nil
}

func (lp *LivePolicy) persist() error {
	if lp.path == "" {
		return nil
	}
	out, err := yaml.Marshal(&lp.data)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	return os.WriteFile(lp.path, out, 0o644)
}

// AddLaneRule adds or replaces a prefix->lane rule at runtime and persists
// the change.
func (lp *LivePolicy) AddLaneRule(prefix string, lane Lane) error {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return fmt.Errorf("empty prefix")
	}
	switch lane {
	case LaneMain, LaneControllerDeveloper, LaneControllerObserver, LaneWorker:
	default:
		return fmt.Errorf("unknown lane %q", lane)
	}

	lp.mu.Lock()
	defer lp.mu.Unlock()

	for i, rule := range lp.data.LaneRules {
		if rule.Prefix == prefix {
			lp.data.LaneRules[i].Lane = string(lane)
			return lp.persist()
		}
	}
	lp.data.LaneRules = append(lp.data.LaneRules, LaneRule{Prefix: prefix, Lane: string(lane)})
	return lp.persist()
}
