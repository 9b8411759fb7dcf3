package export

// ArgvFromDirectives renders a planner Directive sequence into SBX argv
// fragments, mirroring mount.ArgvFromDirectives so the launch orchestrator
// can treat both packages' directive streams uniformly.
func ArgvFromDirectives(directives []Directive) []string {
	var argv []string
	for _, d := range directives {
		switch d.Kind {
		case "bind-ro":
			argv = append(argv, "--ro-bind", d.Path, d.Path)
		case "bind-rw":
			argv = append(argv, "--bind", d.Path, d.Path)
		case "dir":
			argv = append(argv, "--dir", d.Path)
		case "tmpfs":
			argv = append(argv, "--tmpfs", d.Path)
		case "symlink":
			argv = append(argv, "--symlink", d.Target, d.Path)
		}
	}
	return argv
}
