package sandboxctx

import (
	"fmt"
	"strings"

	"github.com/safedep/dry/log"
	"gopkg.in/ini.v1"
)

const (
	sectionContext          = "Context"
	sectionEnvironment      = "Environment"
	sectionSessionBusPolicy = "Session Bus Policy"
	sectionSystemBusPolicy  = "System Bus Policy"
	policySectionPrefix     = "Policy "
)

// ParseMetadata reads a keyfile-style manifest and merges its contents
// into c. Multiple calls accumulate: sections merge into existing state
// rather than replacing it, and each section is merged exactly once per
// call.
func (c *Context) ParseMetadata(data []byte) error {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowBooleanKeys: true}, data)
	if err != nil {
		return fmt.Errorf("parse metadata: %w", err)
	}

	if sec, err := cfg.GetSection(sectionContext); err == nil {
		if err := c.parseContextSection(sec); err != nil {
			return err
		}
	}

	if sec, err := cfg.GetSection(sectionEnvironment); err == nil {
		for _, key := range sec.Keys() {
			c.EnvVars[key.Name()] = key.Value()
		}
	}

	if sec, err := cfg.GetSection(sectionSessionBusPolicy); err == nil {
		if err := parseBusPolicySection(sec, c.SessionBusPolicy); err != nil {
			return err
		}
	}

	if sec, err := cfg.GetSection(sectionSystemBusPolicy); err == nil {
		if err := parseBusPolicySection(sec, c.SystemBusPolicy); err != nil {
			return err
		}
	}

	for _, sec := range cfg.Sections() {
		if !strings.HasPrefix(sec.Name(), policySectionPrefix) {
			continue
		}
		subsystem := strings.TrimPrefix(sec.Name(), policySectionPrefix)
		for _, key := range sec.Keys() {
			fullKey := subsystem + "." + key.Name()
			values := splitSemicolon(key.Value())
			c.GenericPolicy[fullKey] = mergeGenericPolicyValues(c.GenericPolicy[fullKey], values)
		}
	}

	return nil
}

func (c *Context) parseContextSection(sec *ini.Section) error {
	if key, err := sec.GetKey("shared"); err == nil {
		if err := applyBitList(&c.Shares, sharesBits, splitComma(key.Value())); err != nil {
			return err
		}
	}
	if key, err := sec.GetKey("sockets"); err == nil {
		if err := applyBitList(&c.Sockets, socketsBits, splitComma(key.Value())); err != nil {
			return err
		}
	}
	if key, err := sec.GetKey("devices"); err == nil {
		if err := applyBitList(&c.Devices, devicesBits, splitComma(key.Value())); err != nil {
			return err
		}
	}
	if key, err := sec.GetKey("features"); err == nil {
		if err := applyBitList(&c.Features, featuresBits, splitComma(key.Value())); err != nil {
			return err
		}
	}
	if key, err := sec.GetKey("filesystems"); err == nil {
		for _, tok := range splitComma(key.Value()) {
			remove := strings.HasPrefix(tok, "!")
			tok = strings.TrimPrefix(tok, "!")
			if tok == "" {
				continue
			}
			if remove {
				norm, _, err := NormalizeFilesystemKey(tok, FSReadOnly)
				if err != nil {
					return err
				}
				c.Filesystems[norm] = FSDenied
				continue
			}
			norm, mode, err := NormalizeFilesystemKey(tok, FSReadOnly)
			if err != nil {
				return err
			}
			c.Filesystems[norm] = mode
		}
	}
	if key, err := sec.GetKey("persistent"); err == nil {
		for _, tok := range splitComma(key.Value()) {
			remove := strings.HasPrefix(tok, "!")
			tok = strings.TrimPrefix(tok, "!")
			if tok == "" {
				continue
			}
			if remove {
				delete(c.Persistent, tok)
			} else {
				c.Persistent[tok] = struct{}{}
			}
		}
	}
	return nil
}

func applyBitList(bits *TriBits, names namedBits, tokens []string) error {
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		remove := strings.HasPrefix(tok, "!")
		name := strings.TrimPrefix(tok, "!")
		b, err := names.Bit(name)
		if err != nil {
			return err
		}
		if remove {
			bits.Deny(b)
		} else {
			bits.Grant(b)
		}
	}
	return nil
}

func parseBusPolicySection(sec *ini.Section, out map[string]BusPolicy) error {
	for _, key := range sec.Keys() {
		if err := validateBusName(key.Name()); err != nil {
			return err
		}
		policy, err := ParseBusPolicy(key.Value())
		if err != nil {
			return err
		}
		out[key.Name()] = policy
	}
	return nil
}

func splitComma(s string) []string {
	return splitAndTrim(s, ",")
}

func splitSemicolon(s string) []string {
	return splitAndTrim(s, ";")
}

func splitAndTrim(s, sep string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SerializeMetadata writes c back to the keyfile schema. When flatten is
// true, the "valid" bitsets are contracted to enabled bits only (no "!"
// entries) and "!"-prefixed generic-policy values are dropped; when false,
// negatives are emitted for every valid-but-disabled bit and for deny
// filesystem entries. Persistent entries are always written without
// negatives.
func (c *Context) SerializeMetadata(flatten bool) ([]byte, error) {
	cfg := ini.Empty(ini.LoadOptions{AllowBooleanKeys: true})

	ctxSec, err := cfg.NewSection(sectionContext)
	if err != nil {
		return nil, err
	}

	if v := serializeBitList(sharesBits, c.Shares, flatten); v != "" {
		if _, err := ctxSec.NewKey("shared", v); err != nil {
			return nil, err
		}
	}
	if v := serializeBitList(socketsBits, c.Sockets, flatten); v != "" {
		if _, err := ctxSec.NewKey("sockets", v); err != nil {
			return nil, err
		}
	}
	if v := serializeBitList(devicesBits, c.Devices, flatten); v != "" {
		if _, err := ctxSec.NewKey("devices", v); err != nil {
			return nil, err
		}
	}
	if v := serializeBitList(featuresBits, c.Features, flatten); v != "" {
		if _, err := ctxSec.NewKey("features", v); err != nil {
			return nil, err
		}
	}

	if v := c.serializeFilesystems(flatten); v != "" {
		if _, err := ctxSec.NewKey("filesystems", v); err != nil {
			return nil, err
		}
	}
	if v := strings.Join(sortedKeys(c.Persistent), ","); v != "" {
		if _, err := ctxSec.NewKey("persistent", v); err != nil {
			return nil, err
		}
	}

	if len(c.EnvVars) > 0 {
		envSec, err := cfg.NewSection(sectionEnvironment)
		if err != nil {
			return nil, err
		}
		for _, k := range sortedKeys(c.EnvVars) {
			if _, err := envSec.NewKey(k, c.EnvVars[k]); err != nil {
				return nil, err
			}
		}
	}

	if err := serializeBusPolicySection(cfg, sectionSessionBusPolicy, c.SessionBusPolicy); err != nil {
		return nil, err
	}
	if err := serializeBusPolicySection(cfg, sectionSystemBusPolicy, c.SystemBusPolicy); err != nil {
		return nil, err
	}

	if err := c.serializeGenericPolicy(cfg, flatten); err != nil {
		return nil, err
	}

	var buf strings.Builder
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return []byte(buf.String()), nil
}

func serializeBitList(names namedBits, bits TriBits, flatten bool) string {
	granted, denied := names.Names(bits)
	tokens := append([]string{}, granted...)
	if !flatten {
		for _, d := range denied {
			tokens = append(tokens, "!"+d)
		}
	}
	return strings.Join(tokens, ",")
}

func (c *Context) serializeFilesystems(flatten bool) string {
	tokens := []string{}
	for _, k := range sortedKeys(c.Filesystems) {
		mode := c.Filesystems[k]
		if mode == FSDenied {
			if !flatten {
				tokens = append(tokens, "!"+k)
			}
			continue
		}
		tokens = append(tokens, k+mode.suffix())
	}
	return strings.Join(tokens, ",")
}

func serializeBusPolicySection(cfg *ini.File, name string, policies map[string]BusPolicy) error {
	if len(policies) == 0 {
		return nil
	}
	sec, err := cfg.NewSection(name)
	if err != nil {
		return err
	}
	for _, k := range sortedKeys(policies) {
		if _, err := sec.NewKey(k, policies[k].String()); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) serializeGenericPolicy(cfg *ini.File, flatten bool) error {
	bySubsystem := map[string]map[string][]string{}
	for fullKey, values := range c.GenericPolicy {
		subsystem, key, ok := strings.Cut(fullKey, ".")
		if !ok {
			log.Warnf("skipping malformed generic policy key %q", fullKey)
			continue
		}
		if bySubsystem[subsystem] == nil {
			bySubsystem[subsystem] = map[string][]string{}
		}
		bySubsystem[subsystem][key] = values
	}

	for _, subsystem := range sortedKeys(bySubsystem) {
		sec, err := cfg.NewSection(policySectionPrefix + subsystem)
		if err != nil {
			return err
		}
		keys := bySubsystem[subsystem]
		for _, key := range sortedKeys(keys) {
			values := keys[key]
			out := values
			if flatten {
				out = nil
				for _, v := range values {
					if !strings.HasPrefix(v, "!") {
						out = append(out, v)
					}
				}
			}
			if len(out) == 0 {
				continue
			}
			if _, err := sec.NewKey(key, strings.Join(out, ";")); err != nil {
				return err
			}
		}
	}
	return nil
}
