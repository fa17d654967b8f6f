// Package pathvalidate resolves a caller-supplied path to a canonical,
// symlink-resolved path confined to one of the engine's configured base
// directories, and applies the optional access-rule policy for destructive
// operations.
package pathvalidate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Operation identifies the kind of access being validated.
type Operation string

const (
	OpRead      Operation = "read"
	OpBatchRead Operation = "batch-read"
	OpList      Operation = "list"
	OpStatus    Operation = "status"
	OpWrite     Operation = "write"
	OpUpdate    Operation = "update"
	OpDelete    Operation = "delete"
	OpRenameSrc Operation = "rename-src"
	OpRenameDst Operation = "rename-dst"
	OpAppend    Operation = "append"
)

// readFamily bypasses access-rule evaluation per the resolution contract.
var readFamily = map[Operation]bool{
	OpRead:      true,
	OpBatchRead: true,
	OpList:      true,
	OpStatus:    true,
}

// IsReadFamily reports whether op is exempt from access-rule evaluation.
func IsReadFamily(op Operation) bool { return readFamily[op] }

// FailureKind classifies why validation rejected a path. These mirror the
// stable error-kind identifiers of the tool envelope.
type FailureKind string

const (
	FailureOutsideBase  FailureKind = "path-outside-base"
	FailureAccessDenied FailureKind = "access-denied"
	FailureInvalidPath  FailureKind = "invalid-path"
)

// Error reports a validation failure, tagged with a stable [FailureKind].
type Error struct {
	Kind FailureKind
	Path string
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("pathvalidate: %s: %s (%s)", e.Kind, e.Path, e.Msg)
	}
	return fmt.Sprintf("pathvalidate: %s: %s", e.Kind, e.Path)
}

// Action is the outcome of an access-rule match.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule is one entry of the ordered access-control policy (spec §4.1 step 5).
type Rule struct {
	PathPrefix string
	Operations []Operation // empty means "all operations"
	Action     Action
	Priority   int
}

func (r Rule) matchesOp(op Operation) bool {
	if len(r.Operations) == 0 {
		return true
	}
	for _, o := range r.Operations {
		if o == op {
			return true
		}
	}
	return false
}

// Validator resolves paths against a fixed set of base directories and an
// optional, ordered access-rule list.
type Validator struct {
	baseDirs           []string // already-canonicalized, no trailing separator
	rules              []Rule   // sorted by descending priority
	defaultDestructive Action
}

// New builds a Validator. baseDirs are canonicalized (symlinks resolved,
// absolute) at construction time; if any base directory cannot be resolved,
// New returns an error rather than silently ignoring it.
func New(baseDirs []string, rules []Rule, defaultDestructivePolicy Action) (*Validator, error) {
	if len(baseDirs) == 0 {
		return nil, errors.New("pathvalidate: at least one base directory is required")
	}

	canon := make([]string, 0, len(baseDirs))
	for _, d := range baseDirs {
		resolved, err := canonicalizeExisting(d)
		if err != nil {
			return nil, fmt.Errorf("pathvalidate: resolve base directory %q: %w", d, err)
		}
		canon = append(canon, resolved)
	}

	sorted := append([]Rule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Priority > sorted[j].Priority })

	if defaultDestructivePolicy == "" {
		defaultDestructivePolicy = ActionDeny
	}

	return &Validator{baseDirs: canon, rules: sorted, defaultDestructive: defaultDestructivePolicy}, nil
}

// Resolve implements the five-step resolution order in spec §4.1. When
// mayNotExist is true (write/append create-path), only the parent directory
// is required to resolve via symlinks; the final component need not exist.
func (v *Validator) Resolve(requested string, op Operation, mayNotExist bool) (string, error) {
	if requested == "" {
		return "", &Error{Kind: FailureInvalidPath, Path: requested, Msg: "empty path"}
	}

	abs, err := filepath.Abs(requested)
	if err != nil {
		return "", &Error{Kind: FailureInvalidPath, Path: requested, Msg: err.Error()}
	}

	var canon string
	if mayNotExist {
		canon, err = canonicalizeAllowMissingLeaf(abs)
	} else {
		canon, err = canonicalizeExisting(abs)
	}
	if err != nil {
		if os.IsNotExist(err) {
			return "", &Error{Kind: FailureInvalidPath, Path: requested, Msg: "no such file or directory"}
		}
		return "", &Error{Kind: FailureInvalidPath, Path: requested, Msg: err.Error()}
	}

	if !v.withinAnyBase(canon) {
		return "", &Error{Kind: FailureOutsideBase, Path: canon}
	}

	if IsReadFamily(op) {
		return canon, nil
	}

	if action, matched := v.evaluateRules(canon, op); matched {
		if action == ActionDeny {
			return "", &Error{Kind: FailureAccessDenied, Path: canon, Msg: "denied by rule"}
		}
		return canon, nil
	}

	if v.defaultDestructive == ActionDeny {
		return "", &Error{Kind: FailureAccessDenied, Path: canon, Msg: "denied by default policy"}
	}

	return canon, nil
}

func (v *Validator) evaluateRules(canon string, op Operation) (Action, bool) {
	for _, r := range v.rules {
		prefix, err := canonicalizeBestEffort(r.PathPrefix)
		if err != nil {
			prefix = r.PathPrefix
		}
		if pathHasPrefix(canon, prefix) && r.matchesOp(op) {
			return r.Action, true
		}
	}
	return "", false
}

func (v *Validator) withinAnyBase(canon string) bool {
	for _, base := range v.baseDirs {
		if pathHasPrefix(canon, base) {
			return true
		}
	}
	return false
}

func pathHasPrefix(path, prefix string) bool {
	p, pre := path, prefix
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		p = strings.ToLower(p)
		pre = strings.ToLower(pre)
	}
	if p == pre {
		return true
	}
	return strings.HasPrefix(p, pre+string(os.PathSeparator))
}

// canonicalizeExisting resolves every component of path, requiring it to
// exist (symlinks followed, ".." collapsed).
func canonicalizeExisting(path string) (string, error) {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(resolved), nil
}

// canonicalizeAllowMissingLeaf resolves the parent directory via symlinks
// and then joins the final (possibly nonexistent) component, per spec §4.1
// step 2's "for write/create, resolve the parent; final component may not
// exist".
func canonicalizeAllowMissingLeaf(path string) (string, error) {
	dir, base := filepath.Split(filepath.Clean(path))
	if dir == "" {
		dir = "."
	}

	resolvedDir, err := findDeepestExistingAncestor(dir)
	if err != nil {
		return "", err
	}

	return filepath.Clean(filepath.Join(resolvedDir, base)), nil
}

// findDeepestExistingAncestor walks up from dir until it finds a component
// that exists, resolves symlinks on that existing prefix, then re-appends
// the nonexistent suffix unresolved (it cannot contain symlinks since it
// doesn't exist yet).
func findDeepestExistingAncestor(dir string) (string, error) {
	clean := filepath.Clean(dir)
	var suffix []string

	for {
		if resolved, err := filepath.EvalSymlinks(clean); err == nil {
			full := resolved
			for i := len(suffix) - 1; i >= 0; i-- {
				full = filepath.Join(full, suffix[i])
			}
			return full, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(clean)
		if parent == clean {
			return "", fmt.Errorf("no existing ancestor found for %q", dir)
		}
		suffix = append(suffix, filepath.Base(clean))
		clean = parent
	}
}

func canonicalizeBestEffort(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return filepath.Clean(resolved), nil
	}
	return filepath.Clean(abs), nil
}
