package anthology

import "testing"

func TestTokenizeLowercasesAndStripsPunctuation(t *testing.T) {
	got := tokenize("Who's on First?!")
	want := []string{"whos", "on", "first"}
	if !equalTokens(got, want) {
		t.Errorf("tokenize() = %v, want %v", got, want)
	}
}

func TestTokenizeFoldsSpelledOutNumbers(t *testing.T) {
	got := tokenize("Two for the Price of One")
	want := []string{"2", "for", "the", "price", "of", "1"}
	if !equalTokens(got, want) {
		t.Errorf("tokenize() = %v, want %v", got, want)
	}
}

func TestJaccardScoreIdentical(t *testing.T) {
	a := tokenize("Mighty Pups Charged Up")
	b := tokenize("Mighty Pups Charged Up")
	if got := jaccardScore(a, b); got != 1.0 {
		t.Errorf("jaccardScore(identical) = %v, want 1.0", got)
	}
}

func TestJaccardScoreDisjoint(t *testing.T) {
	a := tokenize("apple banana cherry")
	b := tokenize("dog elephant frog")
	if got := jaccardScore(a, b); got != 0 {
		t.Errorf("jaccardScore(disjoint) = %v, want 0", got)
	}
}

func TestJaccardScorePartialOverlapUsesLargerDenominator(t *testing.T) {
	a := tokenize("Pups Save A Mighty Lighthouse")
	b := tokenize("Pups Save The Lighthouse")
	got := jaccardScore(a, b)
	if got <= 0 || got >= 1 {
		t.Errorf("jaccardScore(partial) = %v, want strictly between 0 and 1", got)
	}
}

func TestStripSharedPrefixFindsCommonLeadingPhrase(t *testing.T) {
	lists := [][]string{
		tokenize("Mighty Pups Charged Up Pups Stop A Humdinger Horde"),
		tokenize("Mighty Pups Charged Up Pups Save A Mighty Lighthouse"),
	}
	stripped, found := stripSharedPrefix(lists, maxPrefixTokens, 2)
	if !found {
		t.Fatal("stripSharedPrefix() found = false, want true")
	}
	for i, tl := range stripped {
		if len(tl) >= len(lists[i]) {
			t.Errorf("segment %d: stripped length %d not shorter than original %d", i, len(tl), len(lists[i]))
		}
	}
}

func TestStripSharedPrefixNoCommonPhrase(t *testing.T) {
	lists := [][]string{
		tokenize("Car In A Tree"),
		tokenize("Dalmatian Day"),
	}
	_, found := stripSharedPrefix(lists, maxPrefixTokens, 2)
	if found {
		t.Error("stripSharedPrefix() found = true, want false for unrelated titles")
	}
}
