package dispatch

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"

	clerrors "github.com/wippyai/classinject/errors"
)

// ClassSuffix is the file suffix of compiled JVM units.
const ClassSuffix = ".class"

// Language says where one JVM compiler writes its class files.
type Language struct {
	Name string
	// DirSuffixes are slash-separated trailing path elements of a class
	// output directory, e.g. "java/main".
	DirSuffixes []string
	FileSuffix  string
}

// DefaultLanguages returns the Gradle layouts for Java, Kotlin, Scala and
// Groovy.
func DefaultLanguages() []Language {
	var out []Language
	for _, name := range []string{"java", "kotlin", "scala", "groovy"} {
		out = append(out, Language{
			Name:        name,
			DirSuffixes: []string{name + "/main"},
			FileSuffix:  ClassSuffix,
		})
	}
	return out
}

// LanguageByName returns the row named name.
func LanguageByName(langs []Language, name string) (Language, bool) {
	for _, l := range langs {
		if l.Name == name {
			return l, true
		}
	}
	return Language{}, false
}

// MatchesDir reports whether dir is one of the language's output directories.
func (l Language) MatchesDir(dir string) bool {
	slashed := filepath.ToSlash(filepath.Clean(dir))
	for _, s := range l.DirSuffixes {
		s = strings.Trim(s, "/")
		if s == "" {
			continue
		}
		if slashed == s || strings.HasSuffix(slashed, "/"+s) {
			return true
		}
	}
	return false
}

func (l Language) fileSuffix() string {
	if l.FileSuffix == "" {
		return ClassSuffix
	}
	return l.FileSuffix
}

// languageOf finds the language whose output directory contains path.
func languageOf(langs []Language, path string) (Language, bool) {
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		for _, l := range langs {
			if l.MatchesDir(dir) {
				return l, strings.HasSuffix(path, l.fileSuffix())
			}
		}
		if parent := filepath.Dir(dir); parent == dir {
			return Language{}, false
		}
	}
}

// Discover walks roots and groups the class files found under language
// output directories by language name. The returned Input is enabled.
func Discover(roots []string, langs []Language) (Input, error) {
	in := Input{Enable: true, Units: make(map[string][]string)}
	seen := make(map[string]bool)

	for _, root := range roots {
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				return Input{}, clerrors.NotFound(clerrors.PhaseDispatch, "build root", root)
			}
			return Input{}, clerrors.Wrap(clerrors.PhaseDispatch, clerrors.KindIO, err, "stat build root")
		}

		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			for _, l := range langs {
				if !l.MatchesDir(path) {
					continue
				}
				files, err := collect(path, l.fileSuffix())
				if err != nil {
					return err
				}
				for _, f := range files {
					if !seen[f] {
						seen[f] = true
						in.Units[l.Name] = append(in.Units[l.Name], f)
					}
				}
				Logger().Debug("class directory found",
					zap.String("language", l.Name),
					zap.String("dir", path),
					zap.Int("units", len(files)))
				return filepath.SkipDir
			}
			return nil
		})
		if err != nil {
			return Input{}, clerrors.Wrap(clerrors.PhaseDispatch, clerrors.KindIO, err, "walk "+root)
		}
	}

	for _, files := range in.Units {
		sort.Strings(files)
	}
	return in, nil
}

func collect(dir, suffix string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(path, suffix) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}
