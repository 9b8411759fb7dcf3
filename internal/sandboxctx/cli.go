package sandboxctx

import (
	"fmt"
	"strings"
)

// ApplyOption applies a single CLI flag to c. name is the
// flag name without leading dashes (e.g. "share", "env"); value is its
// argument ("persist" takes the home-relative path to persist).
func (c *Context) ApplyOption(name, value string) error {
	switch name {
	case "share":
		return applyNamedToken(&c.Shares, sharesBits, value, false)
	case "unshare":
		return applyNamedToken(&c.Shares, sharesBits, value, true)
	case "socket":
		return applyNamedToken(&c.Sockets, socketsBits, value, false)
	case "nosocket":
		return applyNamedToken(&c.Sockets, socketsBits, value, true)
	case "device":
		return applyNamedToken(&c.Devices, devicesBits, value, false)
	case "nodevice":
		return applyNamedToken(&c.Devices, devicesBits, value, true)
	case "allow":
		return applyNamedToken(&c.Features, featuresBits, value, false)
	case "disallow":
		return applyNamedToken(&c.Features, featuresBits, value, true)
	case "filesystem":
		norm, mode, err := NormalizeFilesystemKey(value, FSReadOnly)
		if err != nil {
			return err
		}
		c.Filesystems[norm] = mode
		return nil
	case "nofilesystem":
		norm, _, err := NormalizeFilesystemKey(value, FSReadOnly)
		if err != nil {
			return err
		}
		c.Filesystems[norm] = FSDenied
		return nil
	case "env":
		k, v, ok := strings.Cut(value, "=")
		if !ok {
			return invalidArg("Pass the variable as NAME=value",
				"--env requires K=V, got %q", value)
		}
		c.EnvVars[k] = v
		return nil
	case "own-name":
		return setBusPolicy(c.SessionBusPolicy, value, BusPolicyOwn)
	case "talk-name":
		return setBusPolicy(c.SessionBusPolicy, value, BusPolicyTalk)
	case "system-own-name":
		return setBusPolicy(c.SystemBusPolicy, value, BusPolicyOwn)
	case "system-talk-name":
		return setBusPolicy(c.SystemBusPolicy, value, BusPolicyTalk)
	case "add-policy":
		return c.applyPolicyOption(value, false)
	case "remove-policy":
		return c.applyPolicyOption(value, true)
	case "persist":
		c.Persistent[value] = struct{}{}
		return nil
	default:
		return invalidArg("Pick one of the permission flags listed in the message",
			"unknown option --%s (valid: share, unshare, socket, nosocket, device, nodevice, allow, disallow, filesystem, nofilesystem, env, own-name, talk-name, system-own-name, system-talk-name, add-policy, remove-policy, persist)", name)
	}
}

func applyNamedToken(bits *TriBits, names namedBits, value string, deny bool) error {
	b, err := names.Bit(value)
	if err != nil {
		return err
	}
	if deny {
		bits.Deny(b)
	} else {
		bits.Grant(b)
	}
	return nil
}

func setBusPolicy(m map[string]BusPolicy, name string, policy BusPolicy) error {
	if err := validateBusName(name); err != nil {
		return err
	}
	m[name] = policy
	return nil
}

// applyPolicyOption implements --add-policy/--remove-policy. The key must
// contain a '.' (SUBSYSTEM.KEY) and the supplied value must not itself
// carry a leading '!'. Removal is stored as the same value
// prefixed with '!'.
func (c *Context) applyPolicyOption(spec string, remove bool) error {
	key, value, ok := strings.Cut(spec, "=")
	if !ok {
		return invalidArg("Pass the policy as SUBSYSTEM.KEY=VALUE",
			"policy option requires SUBSYSTEM.KEY=VALUE, got %q", spec)
	}
	if !strings.Contains(key, ".") {
		return invalidArg("Pass the policy as SUBSYSTEM.KEY=VALUE",
			"policy key %q must contain a '.'", key)
	}
	if strings.HasPrefix(value, "!") {
		return invalidArg("Use --remove-policy instead of a '!' prefix",
			"policy value %q must not start with '!'", value)
	}

	entry := value
	if remove {
		entry = "!" + value
	}
	c.GenericPolicy[key] = mergeGenericPolicyValues(c.GenericPolicy[key], []string{entry})
	return nil
}

// ToArgs emits a canonical argv form recovering the same state, up to
// ordering of map entries (which is deterministic/sorted here).
func (c *Context) ToArgs() []string {
	var args []string

	grantedShares, deniedShares := sharesBits.Names(c.Shares)
	for _, s := range grantedShares {
		args = append(args, "--share="+s)
	}
	for _, s := range deniedShares {
		args = append(args, "--unshare="+s)
	}

	grantedSockets, deniedSockets := socketsBits.Names(c.Sockets)
	for _, s := range grantedSockets {
		args = append(args, "--socket="+s)
	}
	for _, s := range deniedSockets {
		args = append(args, "--nosocket="+s)
	}

	grantedDevices, deniedDevices := devicesBits.Names(c.Devices)
	for _, s := range grantedDevices {
		args = append(args, "--device="+s)
	}
	for _, s := range deniedDevices {
		args = append(args, "--nodevice="+s)
	}

	grantedFeatures, deniedFeatures := featuresBits.Names(c.Features)
	for _, s := range grantedFeatures {
		args = append(args, "--allow="+s)
	}
	for _, s := range deniedFeatures {
		args = append(args, "--disallow="+s)
	}

	for _, k := range sortedKeys(c.Filesystems) {
		mode := c.Filesystems[k]
		if mode == FSDenied {
			args = append(args, "--nofilesystem="+k)
			continue
		}
		args = append(args, "--filesystem="+k+mode.suffix())
	}

	for _, k := range sortedKeys(c.Persistent) {
		args = append(args, "--persist="+k)
	}

	for _, k := range sortedKeys(c.EnvVars) {
		args = append(args, "--env="+k+"="+c.EnvVars[k])
	}

	for _, k := range sortedKeys(c.SessionBusPolicy) {
		flag := busPolicyFlag(c.SessionBusPolicy[k], false)
		if flag != "" {
			args = append(args, fmt.Sprintf("--%s=%s", flag, k))
		}
	}
	for _, k := range sortedKeys(c.SystemBusPolicy) {
		flag := busPolicyFlag(c.SystemBusPolicy[k], true)
		if flag != "" {
			args = append(args, fmt.Sprintf("--%s=%s", flag, k))
		}
	}

	for _, fullKey := range sortedKeys(c.GenericPolicy) {
		for _, v := range c.GenericPolicy[fullKey] {
			if strings.HasPrefix(v, "!") {
				args = append(args, fmt.Sprintf("--remove-policy=%s=%s", fullKey, strings.TrimPrefix(v, "!")))
			} else {
				args = append(args, fmt.Sprintf("--add-policy=%s=%s", fullKey, v))
			}
		}
	}

	return args
}

func busPolicyFlag(p BusPolicy, system bool) string {
	switch p {
	case BusPolicyOwn:
		if system {
			return "system-own-name"
		}
		return "own-name"
	case BusPolicyTalk:
		if system {
			return "system-talk-name"
		}
		return "talk-name"
	default:
		return ""
	}
}
