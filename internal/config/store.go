// Package config implements the typed, variable-substituted key-value
// store the rest of the core reads its runtime parameters from.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/kenichisakai-git/tofcore/internal/errs"
	"gopkg.in/ini.v1"
)

// Store is a loaded, substituted view over an INI file. Section/key
// lookups return the post-substitution string; typed accessors parse
// from there.
//
// Grounded on the teacher's UnsudoedHomeDir/KrDir home-resolution
// idiom (dir_unix.go) for %HOME% resolution, generalized from a fixed
// ~/.kr path into an arbitrary token-substitution pass over an
// ini.v1-parsed file.
type Store struct {
	file *ini.File
	cdir string
}

// Load reads path via gopkg.in/ini.v1 and resolves substitution tokens
// against the directory containing it. $TOFDATA must be set in the
// environment or Load fails -- this mirrors the teacher's pattern of
// treating a missing required environment variable as a startup-fatal
// ConfigMissing.
func Load(path string) (*Store, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, errs.NewIO(fmt.Errorf("load config %q: %w", path, err))
	}
	if _, ok := os.LookupEnv("TOFDATA"); !ok {
		return nil, errs.NewConfigMissing(fmt.Errorf("$TOFDATA is not set"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errs.NewIO(err)
	}
	return &Store{file: file, cdir: filepath.Dir(abs)}, nil
}

// substitute resolves %CDIR%, %PWD%, %HOME%, and $TOFDATA in raw,
// in that order, each token replaced at most once per occurrence.
func (s *Store) substitute(raw string) string {
	out := raw
	out = strings.ReplaceAll(out, "%CDIR%", s.cdir)
	out = strings.ReplaceAll(out, "%PWD%", ".")
	out = strings.ReplaceAll(out, "%HOME%", os.Getenv("HOME"))
	out = strings.ReplaceAll(out, "$TOFDATA", os.Getenv("TOFDATA"))
	return out
}

func (s *Store) raw(section, key string) (string, error) {
	sec, err := s.file.GetSection(section)
	if err != nil {
		return "", errs.NewConfigMissing(fmt.Errorf("section %q: %w", section, err))
	}
	if !sec.HasKey(key) {
		return "", errs.NewConfigMissing(fmt.Errorf("key %q in section %q not found", key, section))
	}
	return sec.Key(key).String(), nil
}

// GetString returns the substituted string value of section.key.
func (s *Store) GetString(section, key string) (string, error) {
	v, err := s.raw(section, key)
	if err != nil {
		return "", err
	}
	return s.substitute(v), nil
}

// GetInt parses section.key as a base-10 integer after substitution.
func (s *Store) GetInt(section, key string) (int, error) {
	v, err := s.GetString(section, key)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return 0, errs.NewConfigMissing(fmt.Errorf("%s.%s = %q is not an int: %w", section, key, v, err))
	}
	return n, nil
}

// GetDouble parses section.key as a float64 after substitution.
func (s *Store) GetDouble(section, key string) (float64, error) {
	v, err := s.GetString(section, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return 0, errs.NewConfigMissing(fmt.Errorf("%s.%s = %q is not a float: %w", section, key, v, err))
	}
	return f, nil
}

// GetAbsolutePath resolves section.key to an absolute path, relative
// to cdir if it is not already absolute.
func (s *Store) GetAbsolutePath(section, key string) (string, error) {
	v, err := s.GetString(section, key)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(v) {
		return filepath.Clean(v), nil
	}
	return filepath.Join(s.cdir, v), nil
}

// GetFileStem returns the base name of section.key with its extension
// stripped, e.g. "disc_latest.json" -> "disc_latest".
func (s *Store) GetFileStem(section, key string) (string, error) {
	v, err := s.GetString(section, key)
	if err != nil {
		return "", err
	}
	base := filepath.Base(v)
	return strings.TrimSuffix(base, filepath.Ext(base)), nil
}
