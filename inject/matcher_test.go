package inject

import (
	"testing"

	"github.com/wippyai/classinject/classfile"
)

func TestExactMethodMatcher(t *testing.T) {
	tests := []struct {
		name      string
		class     string
		pattern   string
		inClass   string
		signature string
		want      bool
	}{
		{
			name:      "match any class",
			pattern:   "run()V",
			inClass:   "demo/App",
			signature: "run()V",
			want:      true,
		},
		{
			name:      "match restricted class",
			class:     "demo/App",
			pattern:   "run()V",
			inClass:   "demo/App",
			signature: "run()V",
			want:      true,
		},
		{
			name:      "no match other class",
			class:     "demo/App",
			pattern:   "run()V",
			inClass:   "demo/Other",
			signature: "run()V",
			want:      false,
		},
		{
			name:      "no match overload",
			pattern:   "run()V",
			inClass:   "demo/App",
			signature: "run(I)V",
			want:      false,
		},
		{
			name:      "no prefix match",
			pattern:   "run",
			inClass:   "demo/App",
			signature: "run()V",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewExactMethodMatcher(tt.class, tt.pattern)
			if got := m.MatchMethod(tt.inClass, tt.signature); got != tt.want {
				t.Errorf("MatchMethod(%q, %q) = %v, want %v", tt.inClass, tt.signature, got, tt.want)
			}
		})
	}
}

func TestExactCallMatcher(t *testing.T) {
	m := NewExactCallMatcher("java/io/File.delete()Z", "java/util/List.add(Ljava/lang/Object;)Z")
	tests := []struct {
		name string
		ref  classfile.MemberRef
		want bool
	}{
		{
			name: "method",
			ref:  classfile.MemberRef{Tag: classfile.TagMethodref, Owner: "java/io/File", Name: "delete", Descriptor: "()Z"},
			want: true,
		},
		{
			name: "interface method",
			ref:  classfile.MemberRef{Tag: classfile.TagInterfaceMethodref, Owner: "java/util/List", Name: "add", Descriptor: "(Ljava/lang/Object;)Z"},
			want: true,
		},
		{
			name: "other owner",
			ref:  classfile.MemberRef{Tag: classfile.TagMethodref, Owner: "demo/File", Name: "delete", Descriptor: "()Z"},
			want: false,
		},
		{
			name: "field never matches",
			ref:  classfile.MemberRef{Tag: classfile.TagFieldref, Owner: "java/io/File", Name: "delete", Descriptor: "()Z"},
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.MatchCall(tt.ref); got != tt.want {
				t.Errorf("MatchCall(%s) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestCheckCallTarget(t *testing.T) {
	valid := []string{"java/io/File.delete()Z", "a/B.<init>(IJ)V", "Outer$Inner.run()V"}
	for _, s := range valid {
		if err := checkCallTarget(s); err != nil {
			t.Errorf("checkCallTarget(%q) = %v", s, err)
		}
	}
	invalid := []string{"", "delete()Z", "java/io/File.()Z", "java/io/File.delete", "a/B.c(Q)V"}
	for _, s := range invalid {
		if err := checkCallTarget(s); err == nil {
			t.Errorf("checkCallTarget(%q) accepted", s)
		}
	}
}
