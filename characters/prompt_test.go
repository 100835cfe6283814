package characters

import (
	"testing"

	"gorm.io/datatypes"
)

func strPtr(s string) *string {
	return &s
}

func TestSlugify(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "simple", in: "Sakura", want: "sakura"},
		{name: "spaces", in: "Sakura Haruno", want: "sakura-haruno"},
		{name: "punctuation", in: "Rei, the 2nd!", want: "rei-the-2nd"},
		{name: "consecutive separators", in: "a  --  b", want: "a-b"},
		{name: "leading and trailing", in: "  ~Misaki~  ", want: "misaki"},
		{name: "digits", in: "Unit 07", want: "unit-07"},
		{name: "non-ascii collapses", in: "Sakura 桜", want: "sakura"},
		{name: "accented letters collapse", in: "Café Noir", want: "caf-noir"},
		{name: "empty", in: "", want: ""},
		{name: "only separators", in: "!!!", want: ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Slugify(tc.in); got != tc.want {
				t.Fatalf("Slugify(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestBuildPromptOrdering(t *testing.T) {
	character := &Character{
		Name:          "Sakura",
		Personality:   "cheerful and stubborn",
		Appearance:    "pink hair, green eyes",
		Age:           strPtr("17"),
		Setting:       strPtr("ninja village"),
		SpecialTraits: datatypes.JSON([]byte(`["healing jutsu","super strength"]`)),
	}

	got := BuildPrompt(character, "standing on a rooftop")
	want := "standing on a rooftop, pink hair, green eyes, personality: cheerful and stubborn, age: 17, setting: ninja village, healing jutsu, super strength"
	if got != want {
		t.Fatalf("BuildPrompt = %q, want %q", got, want)
	}
}

func TestBuildPromptSkipsEmptyFields(t *testing.T) {
	character := &Character{
		Name:          "Rei",
		Personality:   "   ",
		SpecialTraits: datatypes.JSON([]byte(`["quiet"]`)),
	}

	got := BuildPrompt(character, "")
	if got != "quiet" {
		t.Fatalf("BuildPrompt = %q, want %q", got, "quiet")
	}
}

func TestBuildPromptWithoutCharacter(t *testing.T) {
	if got := BuildPrompt(nil, " a castle "); got != "a castle" {
		t.Fatalf("BuildPrompt = %q, want %q", got, "a castle")
	}
	if got := BuildPrompt(nil, ""); got != "" {
		t.Fatalf("BuildPrompt = %q, want empty", got)
	}
}

func TestDecodeTraits(t *testing.T) {
	if traits := DecodeTraits(nil); traits != nil {
		t.Fatalf("DecodeTraits(nil) = %v, want nil", traits)
	}
	if traits := DecodeTraits([]byte(`not json`)); traits != nil {
		t.Fatalf("DecodeTraits(invalid) = %v, want nil", traits)
	}

	traits := DecodeTraits([]byte(`[" sword ","","magic"]`))
	if len(traits) != 2 || traits[0] != "sword" || traits[1] != "magic" {
		t.Fatalf("DecodeTraits = %v", traits)
	}
}
