package chat_test

import (
	"testing"

	"github.com/TotallyBullshit/SignalR/internal/chat"
)

func TestRoster_AddAndCount(t *testing.T) {
	roster := chat.NewRoster()

	for _, id := range []string{"a", "b", "c"} {
		roster.Add(id)
	}
	roster.Add("a")

	if got := roster.Count(); got != 3 {
		t.Errorf("Count() = %d, want 3", got)
	}
}

func TestRoster_Name(t *testing.T) {
	roster := chat.NewRoster()
	roster.Add("abc-123")

	if got := roster.Name("abc-123"); got != "abc-123" {
		t.Errorf("Name() = %q, want client id fallback", got)
	}

	roster.SetName("abc-123", "ada")
	if got := roster.Name("abc-123"); got != "ada" {
		t.Errorf("Name() = %q, want %q", got, "ada")
	}

	// Re-adding a returning client keeps its name.
	roster.Add("abc-123")
	if got := roster.Name("abc-123"); got != "ada" {
		t.Errorf("Name() after re-add = %q, want %q", got, "ada")
	}
}

func TestRoster_Remove(t *testing.T) {
	roster := chat.NewRoster()
	roster.Add("a")
	roster.Add("b")

	roster.Remove("a")
	roster.Remove("missing")

	if got := roster.Count(); got != 1 {
		t.Errorf("Count() = %d, want 1", got)
	}
}
