package dispatch

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// fallbackTheme is searched when a sound is missing from its own theme.
const fallbackTheme = "freedesktop"

// ErrSoundNotFound is returned when no candidate sound exists in any theme.
var ErrSoundNotFound = errors.New("sound not found")

// Sound names a sound in an XDG sound theme.
type Sound struct {
	Theme string
	Name  string
}

// Player plays the first available of a list of sounds.
type Player interface {
	Play(candidates ...Sound) error
}

// SoundPlayer finds sound files under theme directories and launches an
// external player for them without waiting. Lookups are cached, misses
// included.
type SoundPlayer struct {
	argv []string
	dirs []string

	mu    sync.Mutex
	paths map[Sound]string
}

func NewSoundPlayer(argv []string, dirs []string) *SoundPlayer {
	return &SoundPlayer{argv: argv, dirs: dirs, paths: make(map[Sound]string)}
}

func (p *SoundPlayer) Play(candidates ...Sound) error {
	for _, s := range candidates {
		if path := p.find(s); path != "" {
			argv := append(append([]string(nil), p.argv...), path)
			return start(argv)
		}
	}
	return ErrSoundNotFound
}

// find resolves s in its theme, then in the fallback theme.
func (p *SoundPlayer) find(s Sound) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if path, ok := p.paths[s]; ok {
		return path
	}
	path := p.search(s.Theme, s.Name)
	if path == "" && s.Theme != fallbackTheme {
		path = p.search(fallbackTheme, s.Name)
	}
	p.paths[s] = path
	return path
}

func (p *SoundPlayer) search(theme, name string) string {
	for _, dir := range p.dirs {
		root := filepath.Join(dir, theme)
		if _, err := os.Stat(root); err != nil {
			continue
		}
		var found string
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			if strings.TrimSuffix(d.Name(), filepath.Ext(d.Name())) == name {
				found = path
				return fs.SkipAll
			}
			return nil
		})
		if found != "" {
			return found
		}
	}
	return ""
}
