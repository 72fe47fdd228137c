package transcript_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/troupe/internal/transcript"
)

func TestCorrector_Correct(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Eldrinax", "Garry", "Tower of Whispers", "Vex"})

	got, fixes := c.Correct("we ask elder nacks about gary's debt at the tower of wispers.")
	want := "we ask Eldrinax about Garry's debt at the Tower of Whispers."
	if got != want {
		t.Errorf("Correct() = %q, want %q", got, want)
	}

	var pairs [][2]string
	for _, f := range fixes {
		pairs = append(pairs, [2]string{f.Original, f.Corrected})
		if f.Score <= 0 || f.Score > 1 {
			t.Errorf("correction %q has score %f", f.Original, f.Score)
		}
	}
	wantPairs := [][2]string{
		{"elder nacks", "Eldrinax"},
		{"gary", "Garry"},
		{"tower of wispers", "Tower of Whispers"},
	}
	if !slices.Equal(pairs, wantPairs) {
		t.Errorf("corrections = %v, want %v", pairs, wantPairs)
	}
}

func TestCorrector_LeavesSoundAlikeWordsAlone(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Garry", "Vex"})
	in := "Vex, carry the lantern for barry."
	got, fixes := c.Correct(in)
	if got != in {
		t.Errorf("Correct() = %q, want input unchanged", got)
	}
	if len(fixes) != 0 {
		t.Errorf("corrections = %v, want none", fixes)
	}
}

func TestCorrector_FixesCase(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Garry", "Vex"})
	got, fixes := c.Correct("vex pays garry.")
	if got != "Vex pays Garry." {
		t.Errorf("Correct() = %q", got)
	}
	if len(fixes) != 2 || fixes[0].Score != 1 {
		t.Errorf("corrections = %+v", fixes)
	}
}

func TestCorrector_KeepsPunctuation(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Garry"})
	got, _ := c.Correct("gary, gary!")
	if got != "Garry, Garry!" {
		t.Errorf("Correct() = %q", got)
	}
}

func TestCorrector_NoNames(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"", "  ", "Al"})
	if names := c.Names(); len(names) != 0 {
		t.Errorf("Names() = %v, want none", names)
	}
	in := "gary  and   vex"
	if got, fixes := c.Correct(in); got != in || fixes != nil {
		t.Errorf("Correct() = %q, %v", got, fixes)
	}
}

func TestCorrector_Names(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Garry", "garry", "Tower  of Whispers", "Vex"})
	want := []string{"Garry", "Tower of Whispers", "Vex"}
	if got := c.Names(); !slices.Equal(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestCorrector_StrictThresholds(t *testing.T) {
	t.Parallel()

	c := transcript.New([]string{"Eldrinax"}, transcript.WithPhoneticThreshold(0.95), transcript.WithFuzzyThreshold(0.99))
	in := "ask elder nacks"
	if got, _ := c.Correct(in); got != in {
		t.Errorf("Correct() = %q, want input unchanged", got)
	}
}
