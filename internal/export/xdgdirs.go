package export

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// UserDirs resolves the XDG user directory categories
// (xdg-data, xdg-cache, xdg-config, xdg-desktop, xdg-documents,
// xdg-download, xdg-music, xdg-pictures, xdg-public-share, xdg-templates,
// xdg-videos). Values come from $XDG_*_HOME/~/.config/user-dirs.dirs when
// present, falling back to the conventional defaults.
type UserDirs struct {
	Home       string
	RuntimeDir string

	DataHome   string
	CacheHome  string
	ConfigHome string

	Desktop      string
	Documents    string
	Download     string
	Music        string
	Pictures     string
	PublicShare  string
	Templates    string
	Videos       string
}

// LoadUserDirs resolves the current user's XDG directories.
func LoadUserDirs() (*UserDirs, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	u := &UserDirs{
		Home:        home,
		RuntimeDir:  envOr("XDG_RUNTIME_DIR", fmt.Sprintf("/run/user/%d", os.Getuid())),
		DataHome:    envOr("XDG_DATA_HOME", filepath.Join(home, ".local", "share")),
		CacheHome:   envOr("XDG_CACHE_HOME", filepath.Join(home, ".cache")),
		ConfigHome:  envOr("XDG_CONFIG_HOME", filepath.Join(home, ".config")),
		Desktop:     filepath.Join(home, "Desktop"),
		Documents:   filepath.Join(home, "Documents"),
		Download:    filepath.Join(home, "Downloads"),
		Music:       filepath.Join(home, "Music"),
		Pictures:    filepath.Join(home, "Pictures"),
		PublicShare: filepath.Join(home, "Public"),
		Templates:   filepath.Join(home, "Templates"),
		Videos:      filepath.Join(home, "Videos"),
	}

	u.applyUserDirsFile(filepath.Join(u.ConfigHome, "user-dirs.dirs"))
	return u, nil
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func (u *UserDirs) applyUserDirsFile(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	targets := map[string]*string{
		"XDG_DESKTOP_DIR":     &u.Desktop,
		"XDG_DOCUMENTS_DIR":   &u.Documents,
		"XDG_DOWNLOAD_DIR":    &u.Download,
		"XDG_MUSIC_DIR":       &u.Music,
		"XDG_PICTURES_DIR":    &u.Pictures,
		"XDG_PUBLICSHARE_DIR": &u.PublicShare,
		"XDG_TEMPLATES_DIR":   &u.Templates,
		"XDG_VIDEOS_DIR":      &u.Videos,
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		dst, known := targets[key]
		if !known {
			continue
		}
		value = strings.TrimSpace(value)
		value = strings.Trim(value, `"`)
		value = strings.ReplaceAll(value, "$HOME", u.Home)
		*dst = value
	}
}

// Category resolves one of the xdg-* filesystem-expression categories
// to a host path. ok is false for an unrecognized category, and disabled is
// true when the resolved value equals $HOME, which is how user-dirs.dirs
// marks a directory as turned off.
func (u *UserDirs) Category(name string) (path string, disabled bool, ok bool) {
	category, suffix, _ := strings.Cut(name, "/")

	if category == "xdg-run" {
		if suffix == "" {
			return "", false, false
		}
		return filepath.Join(u.RuntimeDir, suffix), false, true
	}

	var base string
	switch category {
	case "xdg-data":
		base = u.DataHome
	case "xdg-cache":
		base = u.CacheHome
	case "xdg-config":
		base = u.ConfigHome
	case "xdg-desktop":
		base = u.Desktop
	case "xdg-documents":
		base = u.Documents
	case "xdg-download":
		base = u.Download
	case "xdg-music":
		base = u.Music
	case "xdg-pictures":
		base = u.Pictures
	case "xdg-public-share":
		base = u.PublicShare
	case "xdg-templates":
		base = u.Templates
	case "xdg-videos":
		base = u.Videos
	default:
		return "", false, false
	}

	if base == u.Home {
		return "", true, true
	}
	if suffix != "" {
		base = filepath.Join(base, suffix)
	}
	return base, false, true
}
