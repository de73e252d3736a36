package feed

import (
	"reflect"
	"testing"
)

func TestTokenizer_Words(t *testing.T) {
	tokenizer := NewTokenizer()

	got := tokenizer.Words("The Go compiler, the GO runtime and 2024 release notes: go!")
	want := []string{"compiler", "runtime", "release", "notes"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got: %v", want, got)
	}
}

func TestTokenizer_WordsFoldsCase(t *testing.T) {
	tokenizer := NewTokenizer()

	got := tokenizer.Words("Straße STRASSE Новости новости")
	want := []string{"strasse", "strasse", "новости", "новости"}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got: %v", want, got)
	}
}

func TestFrequenciesAndDistinct(t *testing.T) {
	words := []string{"beta", "alpha", "beta", "gamma", "alpha", "beta"}

	freqs := Frequencies(words)
	if freqs["beta"] != 3 || freqs["alpha"] != 2 || freqs["gamma"] != 1 {
		t.Fatalf("Unexpected frequencies: %v", freqs)
	}

	if got := Distinct(words, 0); !reflect.DeepEqual(got, []string{"beta", "alpha", "gamma"}) {
		t.Errorf("Unexpected order: %v", got)
	}
	if got := Distinct(words, 2); !reflect.DeepEqual(got, []string{"beta", "alpha"}) {
		t.Errorf("Unexpected limit: %v", got)
	}
}
