package utils

import (
	"reflect"
	"testing"
	"unicode/utf8"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}

	multibyte := []struct {
		in     string
		maxLen int
		want   string
	}{
		{"뉴진스 걸그룹", 3, "뉴진스..."},
		{"café au lait", 4, "café..."},
		{"naïve", 5, "naïve"},
		{"日本語", 4, "日本語"},
	}
	for _, tt := range multibyte {
		got := Truncate(tt.in, tt.maxLen)
		if got != tt.want {
			t.Errorf("Truncate(%q, %d) = %q, want %q", tt.in, tt.maxLen, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("Truncate(%q, %d) split a rune: %q", tt.in, tt.maxLen, got)
		}
	}
}

func TestTerms(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{"Who is the most popular girl group in South Korea?", []string{"who", "is", "the", "most", "popular", "girl", "group", "in", "south", "korea"}},
		{"flour, tomato-sauce & cheese.", []string{"flour", "tomato", "sauce", "cheese"}},
		{"test number 10", []string{"test", "number", "10"}},
		{"  ...  ", nil},
	}
	for _, tt := range tests {
		got := Terms(tt.in)
		if len(got) == 0 && len(tt.want) == 0 {
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Terms(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
