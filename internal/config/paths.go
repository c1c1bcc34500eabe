package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/caarlos0/env/v11"
)

const (
	appDirName     = "settingsd"
	configFileName = "daemon.yaml"
)

// Paths are the filesystem locations the daemon works with.
type Paths struct {
	ConfigRoot string // $XDG_CONFIG_HOME/settingsd, holds the config tree
	StateRoot  string // $XDG_STATE_HOME/settingsd, holds the state tree
	ConfigFile string // daemon.yaml inside ConfigRoot
}

type xdgEnv struct {
	Home       string `env:"HOME"`
	ConfigHome string `env:"XDG_CONFIG_HOME"`
	StateHome  string `env:"XDG_STATE_HOME"`
}

// ResolvePaths reads the XDG variables from the process environment.
func ResolvePaths() (Paths, error) {
	var e xdgEnv
	if err := env.Parse(&e); err != nil {
		return Paths{}, fmt.Errorf("parse env: %w", err)
	}
	return pathsFrom(e)
}

// ResolvePathsFrom is ResolvePaths over an explicit environment.
func ResolvePathsFrom(environ map[string]string) (Paths, error) {
	var e xdgEnv
	if err := env.ParseWithOptions(&e, env.Options{Environment: environ}); err != nil {
		return Paths{}, fmt.Errorf("parse env: %w", err)
	}
	return pathsFrom(e)
}

func pathsFrom(e xdgEnv) (Paths, error) {
	configHome := e.ConfigHome
	stateHome := e.StateHome
	if configHome == "" || stateHome == "" {
		if e.Home == "" {
			return Paths{}, errors.New("neither XDG directories nor HOME are set")
		}
		if configHome == "" {
			configHome = filepath.Join(e.Home, ".config")
		}
		if stateHome == "" {
			stateHome = filepath.Join(e.Home, ".local", "state")
		}
	}
	root := filepath.Join(configHome, appDirName)
	return Paths{
		ConfigRoot: root,
		StateRoot:  filepath.Join(stateHome, appDirName),
		ConfigFile: filepath.Join(root, configFileName),
	}, nil
}
