package sandboxctx

import (
	"sort"
	"strings"
)

// FilesystemMode is the access mode granted to a filesystem path expression.
// Ordering matters for merge conflict resolution elsewhere (ExportPlanner);
// here it is simply the value stored against a key.
type FilesystemMode int

const (
	FSDenied FilesystemMode = iota
	FSReadOnly
	FSReadWrite
	FSCreate
)

func (m FilesystemMode) suffix() string {
	switch m {
	case FSReadOnly:
		return ":ro"
	case FSReadWrite:
		return ":rw"
	case FSCreate:
		return ":create"
	default:
		return ""
	}
}

func filesystemModeFromSuffix(suffix string) (FilesystemMode, bool) {
	switch suffix {
	case "ro":
		return FSReadOnly, true
	case "rw":
		return FSReadWrite, true
	case "create":
		return FSCreate, true
	default:
		return 0, false
	}
}

// BusPolicy is the access level granted to a D-Bus name pattern.
type BusPolicy int

const (
	BusPolicyNone BusPolicy = iota
	BusPolicySee
	BusPolicyFiltered
	BusPolicyTalk
	BusPolicyOwn
)

var busPolicyNames = map[string]BusPolicy{
	"none":     BusPolicyNone,
	"see":      BusPolicySee,
	"filtered": BusPolicyFiltered,
	"talk":     BusPolicyTalk,
	"own":      BusPolicyOwn,
}

var busPolicyTokens = [...]string{"none", "see", "filtered", "talk", "own"}

func (p BusPolicy) String() string {
	if int(p) >= 0 && int(p) < len(busPolicyTokens) {
		return busPolicyTokens[p]
	}
	return "none"
}

func ParseBusPolicy(token string) (BusPolicy, error) {
	if p, ok := busPolicyNames[token]; ok {
		return p, nil
	}
	return 0, invalidArg("Pick one of: none, see, filtered, talk, own",
		"unknown bus policy %q (valid: none, see, filtered, talk, own)", token)
}

// Context is the composable permission aggregate for one sandbox launch.
// A zero-value Context is empty; it is populated by ParseMetadata and/or
// ApplyOption, combined with Merge, and consumed once by the launcher.
type Context struct {
	Shares   TriBits
	Sockets  TriBits
	Devices  TriBits
	Features TriBits

	EnvVars     map[string]string
	Persistent  map[string]struct{}
	Filesystems map[string]FilesystemMode

	SessionBusPolicy map[string]BusPolicy
	SystemBusPolicy  map[string]BusPolicy

	// GenericPolicy maps "SUBSYSTEM.KEY" to an ordered list of values, each
	// possibly prefixed "!" for negation. Order within a key is insertion
	// order; duplicates (comparing with leading "!" stripped) collapse to
	// the most recently seen occurrence.
	GenericPolicy map[string][]string
}

// New returns an empty Context with all maps allocated.
func New() *Context {
	return &Context{
		EnvVars:          map[string]string{},
		Persistent:       map[string]struct{}{},
		Filesystems:      map[string]FilesystemMode{},
		SessionBusPolicy: map[string]BusPolicy{},
		SystemBusPolicy:  map[string]BusPolicy{},
		GenericPolicy:    map[string][]string{},
	}
}

// NormalizeFilesystemKey strips a trailing ":ro"/":rw"/":create" suffix and
// validates the remaining key against the recognized absolute-path and
// symbolic-prefix forms. Returns the canonical key, the mode implied by
// the suffix (defaultMode if no suffix given), and an error for
// malformed keys.
func NormalizeFilesystemKey(raw string, defaultMode FilesystemMode) (string, FilesystemMode, error) {
	key := raw
	mode := defaultMode

	if idx := strings.LastIndex(raw, ":"); idx > 0 {
		if m, ok := filesystemModeFromSuffix(raw[idx+1:]); ok {
			key = raw[:idx]
			mode = m
		}
	}

	if err := validateFilesystemKey(key); err != nil {
		return "", 0, err
	}

	return key, mode, nil
}

var xdgCategories = []string{
	"xdg-data", "xdg-cache", "xdg-config", "xdg-desktop", "xdg-documents",
	"xdg-download", "xdg-music", "xdg-pictures", "xdg-public-share",
	"xdg-templates", "xdg-videos",
}

func validateFilesystemKey(key string) error {
	switch key {
	case "host", "home":
		return nil
	}

	if strings.HasPrefix(key, "~/") && len(key) > 2 {
		return nil
	}

	if strings.HasPrefix(key, "xdg-run/") && len(strings.TrimPrefix(key, "xdg-run/")) > 0 {
		return nil
	}

	for _, cat := range xdgCategories {
		if key == cat || strings.HasPrefix(key, cat+"/") {
			return nil
		}
	}

	if strings.HasPrefix(key, "/") {
		return nil
	}

	return invalidArg("Use an absolute path, host, home, an xdg-* category, xdg-run/<suffix>, or ~/<suffix>",
		"invalid filesystem expression %q (valid forms: absolute path, host, home, xdg-*, xdg-run/<suffix>, ~/<suffix>)", key)
}

// Merge folds other into c, later (other) winning: bitsets
// use the tri-state merge rule, maps overwrite per key, and GenericPolicy
// list-merges with strip-bang dedupe.
func (c *Context) Merge(other *Context) {
	if other == nil {
		return
	}

	c.Shares.Merge(other.Shares)
	c.Sockets.Merge(other.Sockets)
	c.Devices.Merge(other.Devices)
	c.Features.Merge(other.Features)

	for k, v := range other.EnvVars {
		c.EnvVars[k] = v
	}
	for k := range other.Persistent {
		c.Persistent[k] = struct{}{}
	}
	for k, v := range other.Filesystems {
		c.Filesystems[k] = v
	}
	for k, v := range other.SessionBusPolicy {
		c.SessionBusPolicy[k] = v
	}
	for k, v := range other.SystemBusPolicy {
		c.SystemBusPolicy[k] = v
	}

	for k, vals := range other.GenericPolicy {
		c.GenericPolicy[k] = mergeGenericPolicyValues(c.GenericPolicy[k], vals)
	}
}

// mergeGenericPolicyValues appends child values onto parent values, then
// dedupes comparing with leading "!" stripped so that "x" and "!x" collapse
// to the latest occurrence, preserving first-seen position but last-seen
// sign.
func mergeGenericPolicyValues(parent, child []string) []string {
	combined := make([]string, 0, len(parent)+len(child))
	combined = append(combined, parent...)
	combined = append(combined, child...)

	lastIndex := map[string]int{}
	for i, v := range combined {
		lastIndex[strings.TrimPrefix(v, "!")] = i
	}

	firstPos := map[string]int{}
	order := []string{}
	for _, v := range combined {
		key := strings.TrimPrefix(v, "!")
		if _, seen := firstPos[key]; !seen {
			firstPos[key] = len(order)
			order = append(order, key)
		}
	}

	result := make([]string, 0, len(order))
	for _, key := range order {
		result = append(result, combined[lastIndex[key]])
	}
	return result
}

// Clone returns a deep copy of c.
func (c *Context) Clone() *Context {
	out := New()
	out.Shares = c.Shares
	out.Sockets = c.Sockets
	out.Devices = c.Devices
	out.Features = c.Features
	for k, v := range c.EnvVars {
		out.EnvVars[k] = v
	}
	for k := range c.Persistent {
		out.Persistent[k] = struct{}{}
	}
	for k, v := range c.Filesystems {
		out.Filesystems[k] = v
	}
	for k, v := range c.SessionBusPolicy {
		out.SessionBusPolicy[k] = v
	}
	for k, v := range c.SystemBusPolicy {
		out.SystemBusPolicy[k] = v
	}
	for k, vals := range c.GenericPolicy {
		cp := make([]string, len(vals))
		copy(cp, vals)
		out.GenericPolicy[k] = cp
	}
	return out
}

// sortedKeys returns m's keys sorted lexically, for deterministic
// serialization order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
