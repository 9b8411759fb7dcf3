package mount

import "os"

// NewSealedFile exposes the package's sealed in-memory file primitive to
// other components (LdCache's generated /etc/ld.so.conf and ld.so.conf.d
// fragments, the launch orchestrator's --args payload) that need the same memfd-or-unlinked-tempfile payload pattern
// without duplicating the platform split.
func NewSealedFile(name string, content []byte) (*os.File, error) {
	return createSealedFile(name, content)
}

// ArgvFromDirectives renders a Directive sequence into SBX argv fragments.
// Shared by the top-level launch orchestrator and by LdCache's nested
// sandbox invocation, since both hand extension mount directives to SBX.
func ArgvFromDirectives(directives []Directive) []string {
	var argv []string
	for _, d := range directives {
		switch d.Kind {
		case "tmpfs":
			argv = append(argv, "--tmpfs", d.Path)
		case "dir":
			argv = append(argv, "--dir", d.Path)
		case "bind-ro":
			argv = append(argv, "--ro-bind", d.Source, d.Path)
		case "bind-rw":
			argv = append(argv, "--bind", d.Source, d.Path)
		case "dev-bind":
			argv = append(argv, "--dev-bind", d.Source, d.Path)
		case "lock-file":
			argv = append(argv, "--lock-file", d.Path)
		case "symlink":
			argv = append(argv, "--symlink", d.Target, d.Path)
		}
	}
	return argv
}
