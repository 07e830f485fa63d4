package codeblock

import (
	"reflect"
	"testing"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"no blocks", "Use ls to list files.", nil},
		{"single", "Try:\n```bash\nls -la\n```\n", []string{"ls -la"}},
		{"no info string", "```\npwd\n```", []string{"pwd"}},
		{
			"multiple in order",
			"First:\n```sh\ncd /tmp\n```\nthen:\n```sh\nrm -f *.log\n```\n",
			[]string{"cd /tmp", "rm -f *.log"},
		},
		{"multi-line", "```\nfor f in *; do\n  echo $f\ndone\n```", []string{"for f in *; do\n  echo $f\ndone"}},
		{"tilde fence", "~~~\ndf -h\n~~~", []string{"df -h"}},
		{"unterminated runs to end", "```\nuname -a\n", []string{"uname -a"}},
		{"empty block skipped", "```\n```\n", nil},
		{"inline code ignored", "run `ls` now", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Extract(tt.doc); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Extract() = %q, want %q", got, tt.want)
			}
		})
	}
}
