package utils

import "testing"

func TestDetermineLocale_ExplicitWins(t *testing.T) {
	got := DetermineLocale("es-MX", "en-US,en;q=0.9,es;q=0.8", []string{"en", "es"}, "en")
	if got != "es" {
		t.Fatalf("want es, got %s", got)
	}
}

func TestDetermineLocale_AcceptLanguageOrder(t *testing.T) {
	got := DetermineLocale("", "en-US,en;q=0.9,es;q=0.8", []string{"en", "es"}, "es")
	if got != "en" {
		t.Fatalf("want en, got %s", got)
	}
}

func TestDetermineLocale_AcceptLanguagePrefersHigherQ(t *testing.T) {
	got := DetermineLocale("", "es;q=0.9,en;q=0.8", []string{"en", "es"}, "en")
	if got != "es" {
		t.Fatalf("want es, got %s", got)
	}
}

func TestDetermineLocale_DefaultFallback(t *testing.T) {
	got := DetermineLocale("", "fr-FR,de;q=0.9", []string{"en", "es"}, "es")
	if got != "es" {
		t.Fatalf("want es fallback, got %s", got)
	}
}

func TestResolveLocale(t *testing.T) {
	cases := []struct{ configured, lang, want string }{
		{"", "en_US.UTF-8", "en"},
		{"en", "es_ES.UTF-8", "en"},
		{"", "C", "es"},
		{"fr", "", "es"},
	}
	for _, c := range cases {
		if got := ResolveLocale(c.configured, c.lang); got != c.want {
			t.Fatalf("ResolveLocale(%q, %q): got %s, want %s", c.configured, c.lang, got, c.want)
		}
	}
}
