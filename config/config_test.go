package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/wippyai/classinject/config"
	"github.com/wippyai/classinject/dispatch"
	clerrors "github.com/wippyai/classinject/errors"
	"github.com/wippyai/classinject/inject"
)

const tomlRun = `
enable = true
workers = 3
staging = "out/staged"
unit_timeout = "750ms"
roots = ["build/classes", "/abs/classes"]

[languages]
kotlin = ["kotlin/main", "kotlin/release"]
clojure = ["clojure/main"]

[[policy]]
name = "trace"
class = "demo/App"
method = "run()V"
point = "entry"
fragment = '''
getstatic java/lang/System.out:Ljava/io/PrintStream;
ldc "enter ${class}.${method}"
invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
'''

[[policy]]
method = "save()V"
point = "before-call"
call = "java/io/File.delete()Z"
fragment = "nop"
`

const yamlRun = `
workers: 3
staging: out/staged
unit_timeout: 750ms
roots: [build/classes, /abs/classes]
languages:
  kotlin: [kotlin/main, kotlin/release]
  clojure: [clojure/main]
policy:
  - name: trace
    class: demo/App
    method: run()V
    point: entry
    fragment: |
      getstatic java/lang/System.out:Ljava/io/PrintStream;
      ldc "enter ${class}.${method}"
      invokevirtual java/io/PrintStream.println(Ljava/lang/String;)V
  - method: save()V
    point: before-call
    call: java/io/File.delete()Z
    fragment: nop
`

func write(t *testing.T, dir, name, text string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name string
		file string
		text string
	}{
		{"toml", "run.toml", tomlRun},
		{"yaml", "run.yaml", yamlRun},
		{"yml", "run.yml", yamlRun},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			c, err := config.Load(write(t, dir, tt.file, tt.text))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			abs, _ := filepath.Abs(dir)

			if !c.Enabled() || c.Workers != 3 || c.UnitTimeout != config.Duration(750*time.Millisecond) {
				t.Errorf("enable=%v workers=%d timeout=%s", c.Enabled(), c.Workers, c.UnitTimeout)
			}
			wantRoots := []string{filepath.Join(abs, "build", "classes"), "/abs/classes"}
			if diff := cmp.Diff(wantRoots, c.Roots); diff != "" {
				t.Errorf("roots (-want +got):\n%s", diff)
			}
			if c.Staging != filepath.Join(abs, "out", "staged") {
				t.Errorf("staging = %q", c.Staging)
			}

			opts, err := c.Options()
			if err != nil {
				t.Fatalf("Options: %v", err)
			}
			if len(opts.Policies) != 2 || opts.Workers != 3 || opts.UnitTimeout != 750*time.Millisecond {
				t.Fatalf("options = %+v", opts)
			}
			trace := opts.Policies[0]
			if trace.Name != "trace" || trace.Class != "demo/App" || trace.Point != inject.PointEntry || trace.Fragment.Len() != 3 {
				t.Errorf("trace policy = %+v", trace)
			}
			call := opts.Policies[1]
			if call.Point != inject.PointBeforeCall || call.Call != "java/io/File.delete()Z" {
				t.Errorf("call policy = %+v", call)
			}
		})
	}
}

func TestLanguageTable(t *testing.T) {
	c, err := config.Decode([]byte(tomlRun), config.FormatTOML)
	if err != nil {
		t.Fatal(err)
	}
	langs := c.LanguageTable()

	kotlin, ok := dispatch.LanguageByName(langs, "kotlin")
	if !ok {
		t.Fatal("kotlin missing")
	}
	if diff := cmp.Diff([]string{"kotlin/main", "kotlin/release"}, kotlin.DirSuffixes); diff != "" {
		t.Errorf("kotlin dirs (-want +got):\n%s", diff)
	}
	clojure, ok := dispatch.LanguageByName(langs, "clojure")
	if !ok || clojure.FileSuffix != ".class" || !clojure.MatchesDir("build/classes/clojure/main") {
		t.Errorf("clojure = %+v, %v", clojure, ok)
	}
	if java, _ := dispatch.LanguageByName(langs, "java"); !java.MatchesDir("build/classes/java/main") {
		t.Error("java row lost its default directory")
	}
	if len(langs) != 5 {
		t.Errorf("%d languages, want 5", len(langs))
	}
}

func TestDefaults(t *testing.T) {
	c, err := config.Decode([]byte("roots = [\"a\"]\n"), config.FormatTOML)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Enabled() || c.Workers != 0 || c.UnitTimeout != 0 || c.Staging != "" {
		t.Errorf("defaults = %+v", c)
	}
	if c.Roots[0] != "a" {
		t.Errorf("Decode resolved a relative root: %q", c.Roots[0])
	}

	off, err := config.Decode([]byte("enable: false\n"), config.FormatYAML)
	if err != nil {
		t.Fatal(err)
	}
	if off.Enabled() {
		t.Error("enable: false ignored")
	}

	empty, err := config.Decode(nil, config.FormatYAML)
	if err != nil || !empty.Enabled() {
		t.Errorf("empty yaml = %+v, %v", empty, err)
	}
}

func TestFragmentFile(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "trace.jasm", "iconst_1\npop\n")
	path := write(t, dir, "run.toml", `
[[policy]]
method = "run()V"
point = "exit"
fragment_file = "trace.jasm"
`)
	c, err := config.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	policies, err := c.Policies()
	if err != nil {
		t.Fatalf("Policies: %v", err)
	}
	if policies[0].Fragment.Len() != 2 || policies[0].Point != inject.PointExit {
		t.Errorf("policy = %+v", policies[0])
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name string
		file string
		text string
		kind clerrors.Kind
	}{
		{"unknown extension", "run.json", "{}", clerrors.KindInvalidInput},
		{"bad toml", "run.toml", "workers = [", clerrors.KindInvalidInput},
		{"bad yaml", "run.yaml", "workers: [", clerrors.KindInvalidInput},
		{"unknown yaml key", "run.yaml", "wokers: 2\n", clerrors.KindInvalidInput},
		{"bad duration", "run.toml", `unit_timeout = "soon"`, clerrors.KindInvalidInput},
		{"negative workers", "run.toml", "workers = -1", clerrors.KindInvalidInput},
		{"empty language", "run.toml", "[languages]\njava = []\n", clerrors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(write(t, dir, tt.file, tt.text))
			if clerrors.KindOf(err) != tt.kind {
				t.Errorf("err = %v, want %s", err, tt.kind)
			}
		})
	}

	_, err := config.Load(filepath.Join(dir, "missing.toml"))
	if clerrors.KindOf(err) != clerrors.KindNotFound {
		t.Errorf("missing file: err = %v, want not_found", err)
	}
}

func TestPolicyErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want error
	}{
		{"unknown point", "[[policy]]\nmethod = \"run()V\"\npoint = \"around\"\nfragment = \"nop\"\n",
			&clerrors.Error{Phase: clerrors.PhasePlan, Kind: clerrors.KindInvalidInput}},
		{"bad fragment", "[[policy]]\nmethod = \"run()V\"\npoint = \"entry\"\nfragment = \"return\"\n",
			clerrors.InvalidFragment},
		{"no descriptor", "[[policy]]\nmethod = \"run\"\npoint = \"entry\"\nfragment = \"nop\"\n",
			&clerrors.Error{Phase: clerrors.PhasePlan, Kind: clerrors.KindInvalidInput}},
		{"both fragment sources", "[[policy]]\nmethod = \"run()V\"\npoint = \"entry\"\nfragment = \"nop\"\nfragment_file = \"x\"\n",
			&clerrors.Error{Phase: clerrors.PhaseConfig, Kind: clerrors.KindInvalidInput}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := config.Decode([]byte(tt.text), config.FormatTOML)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if _, err := c.Policies(); !errors.Is(err, tt.want) {
				t.Errorf("Policies = %v, want %v", err, tt.want)
			}
		})
	}
}
