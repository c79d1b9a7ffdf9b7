package classify

import (
	"strings"
	"testing"

	"github.com/marcus/plate/internal/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want models.Category
	}{
		{"https url", "https://example.com", models.CategoryLink},
		{"http url with path", "http://a.com/x?y=1", models.CategoryLink},
		{"url with surrounding space", "  https://example.com/page \n", models.CategoryLink},
		{"ftp url is text", "ftp://example.com", models.CategoryText},
		{"scheme only", "https://", models.CategoryText},
		{"url inside sentence", "see https://example.com for details", models.CategoryText},
		{"function block", "function foo() {\n  return 1\n}", models.CategoryCode},
		{"arrow function", "const f = () => 1", models.CategoryCode},
		{"bare arrow", "() => doThing()", models.CategoryCode},
		{"include", "#include <stdio.h>", models.CategoryCode},
		{"go package", "package main\n\nfunc main() {}", models.CategoryCode},
		{"using", "using System;", models.CategoryCode},
		{"visibility", "public static void main", models.CategoryCode},
		{"typed call", "int main(void)", models.CategoryCode},
		{"brace block", "x = {a: 1}", models.CategoryCode},
		{"indented lines", "items:\n  - one\n  - two", models.CategoryCode},
		{"one indented line is not enough", "title\n  only one\nend", models.CategoryText},
		{"hello world", "hello world", models.CategoryText},
		{"empty", "", models.CategoryText},
		{"whitespace", "   \n\t", models.CategoryText},
		{"invalid utf8", string([]byte{0xff, 0xfe, 0xfd}), models.CategoryText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.text); got != tt.want {
				t.Fatalf("Classify(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestClassifyDeterministic(t *testing.T) {
	inputs := []string{
		"https://example.com",
		"function foo() {\n  return 1\n}",
		"hello world",
		strings.Repeat("{", 1000),
		"%zz://bad url",
	}
	for _, in := range inputs {
		first := Classify(in)
		for i := 0; i < 5; i++ {
			if got := Classify(in); got != first {
				t.Fatalf("Classify(%q) not deterministic: %q then %q", in, first, got)
			}
		}
	}
}

func TestLanguage(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"package main\n\nfunc main() {}", "go"},
		{"#include <stdio.h>", "c"},
		{"using System.Text;", "csharp"},
		{"public class Foo {}", "java"},
		{"def run(x):\n    return x", "python"},
		{"const x = () => 1", "javascript"},
		{"hello world", ""},
	}
	for _, tt := range tests {
		if got := Language(tt.text); got != tt.want {
			t.Errorf("Language(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}
