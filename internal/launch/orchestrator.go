// Package launch implements the top-level launch flow: the single entry
// point that sequences every other component — Context resolution,
// ExportPlanner, extension mounting, ld.so.cache, base-root scaffolding,
// seccomp, app-info publishing, bus proxying, document forwarding — into one
// SBX invocation and either execs it or, under --dry-run, prints the
// composed argv.
package launch

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/safedep/dry/log"

	"github.com/sandboxrt/launchd/internal/appinfo"
	"github.com/sandboxrt/launchd/internal/busproxy"
	"github.com/sandboxrt/launchd/internal/config"
	"github.com/sandboxrt/launchd/internal/dbuspeers"
	"github.com/sandboxrt/launchd/internal/docportal"
	"github.com/sandboxrt/launchd/internal/export"
	"github.com/sandboxrt/launchd/internal/ldcache"
	"github.com/sandboxrt/launchd/internal/mount"
	"github.com/sandboxrt/launchd/internal/refs"
	"github.com/sandboxrt/launchd/internal/sandboxctx"
	"github.com/sandboxrt/launchd/internal/sbxexec"
	"github.com/sandboxrt/launchd/internal/seccompbuilder"
	"github.com/sandboxrt/launchd/internal/usefulerror"
	"github.com/sandboxrt/launchd/internal/version"
)

// Request describes one application (or bare-runtime) launch.
type Request struct {
	AppRef     refs.Ref
	RuntimeRef refs.Ref

	AppFilesPath     string // "" for a bare runtime launch
	RuntimeFilesPath string

	AppExtensions     []mount.Extension
	RuntimeExtensions []mount.Extension

	// AppMetadata/RuntimeMetadata are the raw keyfile manifests, merged in
	// that order on top of the built-in defaults before CallerContext.
	AppMetadata     []byte
	RuntimeMetadata []byte

	// CallerContext carries the CLI-supplied overrides, merged last so it
	// wins over both metadata sources.
	CallerContext *sandboxctx.Context

	Command []string // argv exec'd inside the sandbox; empty uses /app/bin/<app-id>

	RuntimeEtcLdConf string
	RuntimeCommit    string
	AppCommit        string
	MachineIDPath    string
}

// Orchestrator composes and launches one sandboxed application.
type Orchestrator struct {
	Config config.Config
}

// New returns an Orchestrator bound to cfg.
func New(cfg config.Config) *Orchestrator {
	return &Orchestrator{Config: cfg}
}

// Plan is the output of Compose: the fully assembled SBX argv fragments,
// the command to run inside the sandbox, and the payload descriptors the
// argv references by child-relative number.
type Plan struct {
	Argv        []string
	Command     []string
	SealedFiles []*os.File
	Context     *sandboxctx.Context
	Linux32     bool
}

// Launch runs req end to end: composes the plan, then either prints it
// (DryRun), spawns it detached (Background), or replaces this process image
// with the SBX invocation.
func (o *Orchestrator) Launch(ctx context.Context, req Request) error {
	plan, err := o.Compose(ctx, req)
	if err != nil {
		return err
	}

	if o.Config.DryRun {
		fmt.Fprintln(os.Stdout, "bwrap", strings.Join(append(append([]string{}, plan.Argv...), append([]string{"--"}, plan.Command...)...), " "))
		return nil
	}

	sbx, err := sbxexec.ResolveSBX()
	if err != nil {
		return fmt.Errorf("launch: %w", err)
	}

	// The whole composed fragment list travels as one NUL-separated payload
	// read back by SBX from a descriptor, keeping the visible command line
	// down to the command itself.
	argsFile, err := mount.NewSealedFile("bwrap-args", argsPayload(plan.Argv))
	if err != nil {
		return stepFail(fmt.Errorf("launch: seal argv payload: %w", err),
			usefulerror.ErrCodeNamespaceSetupFatal,
			"The composed argv could not be sealed into memory", "")
	}
	files := append(append([]*os.File{}, plan.SealedFiles...), argsFile)
	argsFD := 3 + len(plan.SealedFiles)

	execArgv := append([]string{sbx, "--args", strconv.Itoa(argsFD)}, plan.Command...)

	// Personality must be switched on the thread whose image becomes the
	// child. Failure is not fatal outside the linux32 compatibility case.
	if err := mount.ApplyPersonality(plan.Linux32); err != nil {
		if plan.Linux32 {
			return stepFail(fmt.Errorf("launch: %w", err),
				usefulerror.ErrCodeNamespaceSetupFatal,
				"The 32-bit compatibility personality could not be applied", "")
		}
		log.Debugf("launch: personality not applied: %v", err)
	}

	if o.Config.Background {
		log.Debugf("launch: spawning detached %s with %d argv fragments, %d fds", sbx, len(plan.Argv), len(files))
		if _, err := sbxexec.SpawnDetached(sbxexec.Invocation{BinPath: sbx, Argv: execArgv[1:], ExtraFiles: files}); err != nil {
			return stepFail(err, usefulerror.ErrCodeNamespaceSetupFatal,
				"The sandbox could not be spawned in the background", "")
		}
		return nil
	}

	log.Debugf("launch: exec'ing %s with %d argv fragments, %d fds", sbx, len(plan.Argv), len(files))
	if err := sbxexec.ExecWithFiles(sbx, execArgv, os.Environ(), files); err != nil {
		return stepFail(err, usefulerror.ErrCodeNamespaceSetupFatal,
			"Replacing the launcher process with the sandbox helper failed", "")
	}
	return nil
}

// stepFail attaches a code, human message, and hint to a failed launch
// step. An error that already carries a code (from the failure site itself)
// passes through untouched, so the most specific diagnosis wins.
func stepFail(err error, code, human, help string) error {
	if _, ok := usefulerror.AsUsefulError(err); ok {
		return err
	}
	return usefulerror.Useful().
		WithCode(code).
		WithHumanError(human).
		WithHelp(help).
		Wrap(err)
}

// argsPayload renders argv fragments as the NUL-separated stream SBX reads
// from the --args descriptor.
func argsPayload(argv []string) []byte {
	var b []byte
	for _, a := range argv {
		b = append(b, a...)
		b = append(b, 0)
	}
	return b
}

// Compose runs every launch step short of the final exec, returning the
// assembled argv fragments and the payload descriptors they reference.
// `launchd info` uses this directly to render the plan without invoking SBX.
// Under DryRun the externally-visible steps (ldconfig build, bus-proxy
// spawn, document portal calls) are skipped, so composing has no side
// effects beyond directory creation.
func (o *Orchestrator) Compose(ctx context.Context, req Request) (*Plan, error) {
	if req.AppRef.ID != "" && !config.IsTrustedRef(o.Config, req.AppRef) {
		log.Warnf("launchd: launching untrusted ref %s", req.AppRef)
	}

	sandboxCtx, err := o.resolveContext(req)
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: resolve context: %w", err),
			usefulerror.ErrCodeInvalidArgument,
			"The launch permissions could not be resolved",
			"Check the metadata keyfiles and permission flags for the token named in the error")
	}

	u, err := hostUser()
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: resolve host user: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"The current host user could not be resolved",
			"The launcher needs a passwd entry and HOME for the invoking user")
	}

	dirs, err := export.LoadUserDirs()
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: load user dirs: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"The user's home directory could not be resolved",
			"Set HOME (and XDG_RUNTIME_DIR) in the launcher's environment")
	}

	appPaths := export.AppPaths{UserBaseDir: filepath.Join(dirs.DataHome, "flatpak")}
	if req.AppRef.ID != "" {
		appPaths.AppID = req.AppRef.ID
		appPaths.DataParent = filepath.Join(dirs.Home, ".var", "app")
		appPaths.AppDataDir = filepath.Join(appPaths.DataParent, req.AppRef.ID)
		if err := os.MkdirAll(appPaths.AppDataDir, 0o755); err != nil {
			return nil, stepFail(fmt.Errorf("launch: create app data dir: %w", err),
			usefulerror.ErrCodePermissionDenied,
			"The per-app data directory could not be created",
			"The launcher assumes the current user owns ~/.var/app")
		}
	}

	var argv []string
	var fds sbxexec.FDAllocator

	// Runtime and app trees come first so everything later mounts over them.
	if req.RuntimeFilesPath != "" {
		argv = append(argv, "--ro-bind", req.RuntimeFilesPath, "/usr", "--lock-file", "/usr/.ref")
	}
	if req.AppFilesPath != "" {
		argv = append(argv, "--ro-bind", req.AppFilesPath, "/app", "--lock-file", "/app/.ref")
	} else {
		argv = append(argv, "--dir", "/app")
	}

	runtimeMount, err := mountExtensions(req.RuntimeExtensions, true)
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: mount runtime extensions: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"A runtime extension's file tree is missing",
			"Check the paths in the runtime extension descriptors")
	}
	appMount, err := mountExtensions(req.AppExtensions, req.AppFilesPath != "")
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: mount app extensions: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"An app extension's file tree is missing",
			"Check the paths in the app extension descriptors")
	}
	argv = append(argv, mount.ArgvFromDirectives(runtimeMount.Directives)...)
	argv = append(argv, mount.ArgvFromDirectives(appMount.Directives)...)

	// The cache build must finish before the app-info file is rendered:
	// its checksum covers the extension state recorded there.
	var ldCacheFile *os.File
	if !o.Config.DryRun && req.RuntimeFilesPath != "" {
		ldReq := ldcache.Request{
			AppDataDir:               appPaths.AppDataDir,
			CacheDirOverride:         o.Config.LdCacheDir,
			RuntimeFiles:             req.RuntimeFilesPath,
			AppFiles:                 req.AppFilesPath,
			RuntimeEtcLdConf:         req.RuntimeEtcLdConf,
			Extensions:               combineMountResults(runtimeMount, appMount),
			AppCommit:                req.AppCommit,
			RuntimeCommit:            req.RuntimeCommit,
			AppExtensionsSummary:     appMount.Summary,
			RuntimeExtensionsSummary: runtimeMount.Summary,
		}
		ldCacheFile, err = ldcache.Open(ctx, ldReq)
		if err != nil {
			return nil, stepFail(fmt.Errorf("launch: open ld cache: %w", err),
			usefulerror.ErrCodeExternalFailure,
			"Building the ld.so.cache via the nested ldconfig run failed",
			"Re-run with --verbose to see the nested sandbox invocation")
		}
	}

	arch := req.AppRef.Arch
	if arch == "" {
		arch = req.RuntimeRef.Arch
	}
	linux32 := arch.Is32Bit()

	baseBuilder := mount.NewBuilder()
	baseRoot, err := baseBuilder.Build(mount.Options{
		RuntimeFilesPath: req.RuntimeFilesPath,
		User: mount.User{
			UID:      u.uid,
			GID:      u.gid,
			Username: u.username,
			Home:     dirs.Home,
			Shell:    u.shell,
		},
		DieWithParent: true,
		WritableEtc:   sandboxCtx.Features.IsGranted(sandboxctx.FeatureDevel),
		Arch:          arch,
		Linux32:       linux32,
		MachineIDPath: req.MachineIDPath,
		MonitorDir:    o.requestMonitorDir(ctx),
	})
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: build base root: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"The base filesystem scaffolding could not be assembled",
			"Check that the runtime file tree is complete")
	}
	argv = append(argv, baseRoot.Argv...)
	for _, sealed := range baseRoot.SealedFiles {
		fdNum := fds.Add(sealed.File)
		argv = append(argv, "--file", strconv.Itoa(fdNum), sealed.SandboxPath)
	}

	if o.Config.Seccomp {
		sb := seccompbuilder.New(
			sandboxCtx.Features.IsGranted(sandboxctx.FeatureDevel),
			sandboxCtx.Features.IsGranted(sandboxctx.FeatureMultiarch) || o.Config.MultiarchDefault,
		)
		filterFile, err := sb.Build([]refs.Arch{arch})
		if err != nil {
			return nil, stepFail(fmt.Errorf("launch: build seccomp filter: %w", err),
			usefulerror.ErrCodeNamespaceSetupFatal,
			"The syscall filter could not be assembled",
			"Pass --seccomp=false to launch without a filter while debugging")
		}
		fdNum := fds.Add(filterFile)
		argv = append(argv, "--seccomp", strconv.Itoa(fdNum))
	}

	if ldCacheFile != nil {
		ldFD := fds.Add(ldCacheFile)
		argv = append(argv, "--ro-bind-data", strconv.Itoa(ldFD), "/etc/ld.so.cache")
	}

	appName := req.RuntimeRef.ID
	isRuntime := req.AppFilesPath == ""
	if !isRuntime {
		appName = req.AppRef.ID
	}
	published, err := appinfo.Publish(
		appinfo.Application{IsRuntime: isRuntime, Name: appName, Runtime: req.RuntimeRef.String()},
		appinfo.Instance{
			AppPath:           req.AppFilesPath,
			AppCommit:         req.AppCommit,
			AppExtensions:     appMount.Summary,
			RuntimePath:       req.RuntimeFilesPath,
			RuntimeCommit:     req.RuntimeCommit,
			RuntimeExtensions: runtimeMount.Summary,
			Branch:            req.AppRef.Branch,
			FlatpakVersion:    version.Version,
			SessionBusProxy:   len(sandboxCtx.SessionBusPolicy) > 0,
			SystemBusProxy:    len(sandboxCtx.SystemBusPolicy) > 0,
		},
		u.uid,
	)
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: publish appinfo: %w", err),
			usefulerror.ErrCodeNamespaceSetupFatal,
			"The sandbox's application info file could not be published",
			"")
	}
	fileFDNum := fds.Add(published.FileFD)
	bindFDNum := fds.Add(published.BindFD)
	argv = append(argv,
		"--file", strconv.Itoa(fileFDNum), "/.flatpak-info",
		"--ro-bind-data", strconv.Itoa(bindFDNum), "/.flatpak-info",
	)
	argv = append(argv, mount.ArgvFromDirectives([]mount.Directive{published.SymlinkDirective})...)

	sandboxRuntimeDir := fmt.Sprintf("/run/user/%d", u.uid)

	// Document portal, resolved before the permission args so the by-app
	// subtree is mounted and file arguments can be rewritten against it.
	docs, docMount, docClose := o.resolveDocPortal(ctx)
	if docClose != nil {
		defer docClose()
	}
	if docMount != "" && appPaths.AppID != "" {
		argv = append(argv,
			"--bind", filepath.Join(docMount, "by-app", appPaths.AppID), sandboxRuntimeDir+"/doc",
		)
	}

	env := baseEnvironment()
	for k, v := range sandboxCtx.EnvVars {
		env[k] = v
	}
	env["XDG_RUNTIME_DIR"] = sandboxRuntimeDir

	if !sandboxCtx.Shares.IsGranted(sandboxctx.ShareIPC) {
		argv = append(argv, "--unshare-ipc")
	}
	if !sandboxCtx.Shares.IsGranted(sandboxctx.ShareNetwork) {
		argv = append(argv, "--unshare-net")
	}

	argv = append(argv, mount.ArgvFromDirectives(deviceDirectives(sandboxCtx))...)
	argv = append(argv, mount.ArgvFromDirectives(socketDirectives(sandboxCtx, dirs.RuntimeDir, sandboxRuntimeDir, env))...)

	proxyResult, err := o.startBusProxies(ctx, req, sandboxCtx, dirs.RuntimeDir, sandboxRuntimeDir, published.ProxyFD, env)
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: start bus proxies: %w", err),
			usefulerror.ErrCodeExternalFailure,
			"The D-Bus filtering proxy could not be started",
			"Check that xdg-dbus-proxy is installed and the session bus is reachable")
	}
	if proxyResult != nil {
		argv = append(argv, mount.ArgvFromDirectives(proxyResult.Directives)...)
		fdNum := fds.Add(proxyResult.SyncFD)
		argv = append(argv, "--sync-fd", strconv.Itoa(fdNum))
	}

	planner := export.New()
	if err := export.ComposeFromContext(planner, sandboxCtx, dirs, appPaths); err != nil {
		return nil, stepFail(fmt.Errorf("launch: export planner: %w", err),
			usefulerror.ErrCodeEnvironmentMissing,
			"A requested filesystem path could not be exported",
			"Check the --filesystem values against the host filesystem")
	}
	argv = append(argv, export.ArgvFromDirectives(planner.Emit())...)
	argv = append(argv, mount.ArgvFromDirectives(persistentDirectives(sandboxCtx, dirs.Home, appPaths.AppDataDir))...)

	argv = append(argv, mount.ArgvFromDirectives(mount.ProjectJournal())...)
	argv = append(argv, mount.ArgvFromDirectives(mount.ProjectFonts(dirs.Home))...)
	argv = append(argv, mount.ArgvFromDirectives(mount.ProjectIcons())...)
	argv = append(argv, mount.ArgvFromDirectives(mount.ProjectDebugSymlinks())...)

	command := req.Command
	if len(command) == 0 {
		command = []string{"/app/bin/" + req.AppRef.ID}
	}
	command, err = o.forwardDocuments(ctx, req, docs, docMount, planner, command)
	if err != nil {
		return nil, stepFail(fmt.Errorf("launch: forward documents: %w", err),
			usefulerror.ErrCodeExternalFailure,
			"Forwarding file arguments through the document portal failed",
			"Check that xdg-document-portal is running")
	}

	for _, k := range sortedEnvKeys(env) {
		argv = append(argv, "--setenv", k, env[k])
	}

	return &Plan{
		Argv:        argv,
		Command:     command,
		SealedFiles: fds.ExtraFiles(),
		Context:     sandboxCtx,
		Linux32:     linux32,
	}, nil
}

// resolveContext implements the composition order: built-in defaults,
// runtime metadata, app metadata, caller (CLI) overrides — each later
// source winning per Context.Merge's tri-state rule.
func (o *Orchestrator) resolveContext(req Request) (*sandboxctx.Context, error) {
	result := defaultContext()

	if len(req.RuntimeMetadata) > 0 {
		rc := sandboxctx.New()
		if err := rc.ParseMetadata(req.RuntimeMetadata); err != nil {
			return nil, fmt.Errorf("parse runtime metadata: %w", err)
		}
		result.Merge(rc)
	}
	if len(req.AppMetadata) > 0 {
		ac := sandboxctx.New()
		if err := ac.ParseMetadata(req.AppMetadata); err != nil {
			return nil, fmt.Errorf("parse app metadata: %w", err)
		}
		result.Merge(ac)
	}
	if req.CallerContext != nil {
		result.Merge(req.CallerContext)
	}

	return result, nil
}

// defaultContext is the built-in baseline every launch starts from: the
// app may always talk to the portal APIs it needs to request file access
// and query accessibility state.
func defaultContext() *sandboxctx.Context {
	c := sandboxctx.New()
	c.SessionBusPolicy["org.freedesktop.portal.*"] = sandboxctx.BusPolicyTalk
	c.SessionBusPolicy["org.a11y.Bus"] = sandboxctx.BusPolicyTalk
	return c
}

func mountExtensions(exts []mount.Extension, active bool) (mount.Result, error) {
	if !active || len(exts) == 0 {
		return mount.Result{LdConfFragments: map[string]string{}}, nil
	}
	m := mount.NewMounter(true)
	return m.Mount(exts)
}

func combineMountResults(a, b mount.Result) mount.Result {
	out := mount.Result{LdConfFragments: map[string]string{}}
	out.Directives = append(append([]mount.Directive{}, a.Directives...), b.Directives...)
	for k, v := range a.LdConfFragments {
		out.LdConfFragments[k] = v
	}
	for k, v := range b.LdConfFragments {
		out.LdConfFragments[k] = v
	}
	return out
}

// persistentDirectives binds each persisted relative home path from the
// app's own data directory over the corresponding $HOME location — but only
// when the real home isn't already exposed, in which case the binds would
// shadow the user's actual files.
func persistentDirectives(ctx *sandboxctx.Context, home, appDataDir string) []mount.Directive {
	if appDataDir == "" || len(ctx.Persistent) == 0 || homeExposed(ctx) {
		return nil
	}

	paths := make([]string, 0, len(ctx.Persistent))
	for p := range ctx.Persistent {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var out []mount.Directive
	for _, p := range paths {
		src := filepath.Join(appDataDir, p)
		if err := os.MkdirAll(src, 0o755); err != nil {
			log.Warnf("launch: cannot create persistent dir %q: %v", src, err)
			continue
		}
		out = append(out, mount.Directive{Kind: "bind-rw", Path: filepath.Join(home, p), Source: src})
	}
	return out
}

// homeExposed reports whether the Context already exposes the user's real
// home, either directly or via the whole host filesystem.
func homeExposed(ctx *sandboxctx.Context) bool {
	for _, key := range []string{"home", "host"} {
		if mode, ok := ctx.Filesystems[key]; ok && mode != sandboxctx.FSDenied {
			return true
		}
	}
	return false
}

type hostUserInfo struct {
	uid      int
	gid      int
	username string
	shell    string
}

func hostUser() (hostUserInfo, error) {
	u, err := user.Current()
	if err != nil {
		return hostUserInfo{}, err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return hostUserInfo{}, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return hostUserInfo{}, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	shell := os.Getenv("SHELL")
	return hostUserInfo{uid: uid, gid: gid, username: u.Username, shell: shell}, nil
}

// requestMonitorDir asks the session helper for its network-file monitor
// directory. Absence of the helper just means the host files get bound
// directly.
func (o *Orchestrator) requestMonitorDir(ctx context.Context) string {
	if o.Config.DryRun {
		return ""
	}
	conn, err := sessionBus()
	if err != nil {
		return ""
	}
	defer conn.Close()

	dir, err := dbuspeers.RequestMonitor(ctx, conn)
	if err != nil {
		log.Debugf("launch: session helper monitor unavailable: %v", err)
		return ""
	}
	return dir
}

// startBusProxies resolves each restricted bus's upstream address and hands
// the set to the proxy orchestrator. A bus whose socket is granted outright
// is bound directly by socketDirectives instead and never proxied. The
// launcher is also placed in a transient scope first, so the proxy inherits
// the cgroup.
func (o *Orchestrator) startBusProxies(ctx context.Context, req Request, sandboxCtx *sandboxctx.Context, hostRuntimeDir, sandboxRuntimeDir string, flatpakInfo *os.File, env map[string]string) (*busproxy.Result, error) {
	sessionFree := sandboxCtx.Sockets.IsGranted(sandboxctx.SocketSessionBus)
	systemFree := sandboxCtx.Sockets.IsGranted(sandboxctx.SocketSystemBus)

	proxySession := !sessionFree && len(sandboxCtx.SessionBusPolicy) > 0
	proxySystem := !systemFree && len(sandboxCtx.SystemBusPolicy) > 0

	if !proxySession && !proxySystem {
		return nil, nil
	}
	if o.Config.DryRun {
		log.Debugf("launch: dry run, not spawning bus proxies")
		return nil, nil
	}

	var buses []busproxy.Bus

	if proxySession {
		buses = append(buses, busproxy.Bus{
			Name:              "session",
			UpstreamAddress:   os.Getenv("DBUS_SESSION_BUS_ADDRESS"),
			SandboxSocketPath: sandboxRuntimeDir + "/bus",
			Policies:          sandboxCtx.SessionBusPolicy,
		})
		env["DBUS_SESSION_BUS_ADDRESS"] = "unix:path=" + sandboxRuntimeDir + "/bus"

		if conn, err := sessionBus(); err == nil {
			unit := fmt.Sprintf("launchd-%s-%d.scope", req.AppRef.ID, os.Getpid())
			if err := dbuspeers.StartTransientScope(ctx, conn, unit, uint32(os.Getpid())); err != nil {
				log.Debugf("launch: transient scope registration failed: %v", err)
			}
			if addr, ok := dbuspeers.A11yBusAddress(ctx, conn); ok {
				buses = append(buses, busproxy.Bus{
					Name:              "a11y",
					UpstreamAddress:   addr,
					SandboxSocketPath: sandboxRuntimeDir + "/at-spi-bus",
					Policies:          map[string]sandboxctx.BusPolicy{"org.a11y.*": sandboxctx.BusPolicyTalk},
				})
				env["AT_SPI_BUS_ADDRESS"] = "unix:path=" + sandboxRuntimeDir + "/at-spi-bus"
			}
			conn.Close()
		}
	}

	if proxySystem {
		addr := os.Getenv("DBUS_SYSTEM_BUS_ADDRESS")
		if addr == "" {
			addr = "unix:path=/var/run/dbus/system_bus_socket"
		}
		buses = append(buses, busproxy.Bus{
			Name:              "system",
			UpstreamAddress:   addr,
			SandboxSocketPath: "/run/dbus/system_bus_socket",
			Policies:          sandboxCtx.SystemBusPolicy,
		})
		env["DBUS_SYSTEM_BUS_ADDRESS"] = "unix:path=/run/dbus/system_bus_socket"
	}

	return busproxy.Start(ctx, busproxy.Request{
		AppID:          req.AppRef.ID,
		UserRuntimeDir: hostRuntimeDir,
		FlatpakInfo:    flatpakInfo,
		Buses:          buses,
	})
}

// sessionBus dials a private session bus connection and completes the
// authentication handshake.
func sessionBus() (*dbus.Conn, error) {
	conn, err := dbus.SessionBusPrivate()
	if err != nil {
		return nil, err
	}
	if err := conn.Auth(nil); err != nil {
		conn.Close()
		return nil, err
	}
	if err := conn.Hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// resolveDocPortal connects to the document portal and resolves its mount
// point. All failures degrade to "no portal": file arguments pass through
// unrewritten and no by-app subtree is bound.
func (o *Orchestrator) resolveDocPortal(ctx context.Context) (docs *dbuspeers.Documents, mountPoint string, closeFn func()) {
	if o.Config.DryRun {
		return nil, "", nil
	}
	conn, err := sessionBus()
	if err != nil {
		log.Debugf("launch: no session bus, document portal unavailable: %v", err)
		return nil, "", nil
	}

	docs = dbuspeers.NewDocuments(conn)
	mountPoint, err = docs.MountPoint(ctx)
	if err != nil {
		log.Debugf("launch: document portal unavailable: %v", err)
		conn.Close()
		return nil, "", nil
	}
	return docs, mountPoint, func() { conn.Close() }
}

// forwardDocuments rewrites @@/@@u spans in command through the document
// portal when it's reachable; otherwise the span markers are still consumed
// but the arguments pass through untouched.
func (o *Orchestrator) forwardDocuments(ctx context.Context, req Request, docs *dbuspeers.Documents, docMount string, planner *export.Planner, command []string) ([]string, error) {
	hasSpan := false
	for _, a := range command {
		if a == "@@" || a == "@@u" {
			hasSpan = true
			break
		}
	}
	if !hasSpan {
		return command, nil
	}
	if docs == nil {
		return stripSpanMarkers(command), nil
	}

	rewriter := &docportal.Rewriter{
		Portal:    docs,
		DocMount:  docMount,
		AppID:     req.AppRef.ID,
		IsVisible: planner.IsVisible,
	}
	return rewriter.Rewrite(ctx, command)
}

func stripSpanMarkers(command []string) []string {
	out := make([]string, 0, len(command))
	for _, a := range command {
		if a == "@@" || a == "@@u" {
			continue
		}
		out = append(out, a)
	}
	return out
}

func sortedEnvKeys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
