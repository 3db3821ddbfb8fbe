package planner

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/namegnome/serve/internal/domain"
)

func TestAssembleOrdersItemsByNaturalSrcPath(t *testing.T) {
	items := []domain.PlanItem{
		{ID: "2", SrcPath: "Show/file10.mp4", Confidence: 1.0},
		{ID: "1", SrcPath: "Show/file2.mp4", Confidence: 1.0},
	}
	review := Assemble("scan1", "fp1", domain.MediaTV, items)
	if review.Items[0].SrcPath != "Show/file2.mp4" || review.Items[1].SrcPath != "Show/file10.mp4" {
		t.Errorf("Assemble() order = [%s, %s], want natural order (file2 before file10)",
			review.Items[0].SrcPath, review.Items[1].SrcPath)
	}
}

func TestAssembleBucketsConfidence(t *testing.T) {
	items := []domain.PlanItem{
		{ID: "1", SrcPath: "a.mp4", Confidence: 0.95},
		{ID: "2", SrcPath: "b.mp4", Confidence: 0.75},
		{ID: "3", SrcPath: "c.mp4", Confidence: 0.5},
	}
	review := Assemble("scan1", "fp1", domain.MediaMovie, items)
	want := map[string]domain.ConfidenceBucket{"a.mp4": domain.BucketHigh, "b.mp4": domain.BucketMedium, "c.mp4": domain.BucketLow}
	for _, item := range review.Items {
		if item.Bucket != want[item.SrcPath] {
			t.Errorf("item %s bucket = %v, want %v", item.SrcPath, item.Bucket, want[item.SrcPath])
		}
	}
}

func TestAssembleGroupsBySrcPathWithRollup(t *testing.T) {
	items := []domain.PlanItem{
		{ID: "1", SrcPath: "anthology.mp4", Confidence: 0.9, Warnings: []domain.Warning{domain.WarnGapPresent}},
		{ID: "2", SrcPath: "anthology.mp4", Confidence: 0.6, Warnings: []domain.Warning{domain.WarnTitleLowMatch}},
	}
	review := Assemble("scan1", "fp1", domain.MediaTV, items)
	if len(review.Groups) != 1 {
		t.Fatalf("Assemble() produced %d groups, want 1", len(review.Groups))
	}
	g := review.Groups[0]
	if g.MinConfidence != 0.6 || g.MaxConfidence != 0.9 {
		t.Errorf("group rollup = {min:%v max:%v}, want {min:0.6 max:0.9}", g.MinConfidence, g.MaxConfidence)
	}
	if len(g.Warnings) != 2 {
		t.Errorf("group.Warnings = %v, want union of both items' warnings", g.Warnings)
	}
}

func TestAssembleSummaryCounts(t *testing.T) {
	items := []domain.PlanItem{
		{ID: "1", SrcPath: "a.mp4", Confidence: 0.95, Origin: domain.OriginDeterministic, Anthology: true},
		{ID: "2", SrcPath: "b.mp4", Confidence: 0.4, Origin: domain.OriginLLM,
			Disambiguation: &domain.Disambiguation{Token: "dsk_1"}},
	}
	review := Assemble("scan1", "fp1", domain.MediaTV, items)
	if review.Summary.TotalItems != 2 {
		t.Errorf("Summary.TotalItems = %d, want 2", review.Summary.TotalItems)
	}
	if review.Summary.AnthologyCandidates != 1 {
		t.Errorf("Summary.AnthologyCandidates = %d, want 1", review.Summary.AnthologyCandidates)
	}
	if review.Summary.DisambiguationsNeeded != 1 {
		t.Errorf("Summary.DisambiguationsNeeded = %d, want 1", review.Summary.DisambiguationsNeeded)
	}
	if review.Summary.ByOrigin[domain.OriginDeterministic] != 1 || review.Summary.ByOrigin[domain.OriginLLM] != 1 {
		t.Errorf("Summary.ByOrigin = %v, want one of each origin", review.Summary.ByOrigin)
	}
}

func TestAssembleMergePolicyAdoptsLLMAboveThreshold(t *testing.T) {
	items := []domain.PlanItem{
		{
			ID: "1", SrcPath: "a.mp4", Origin: domain.OriginDeterministic, Confidence: 0.6,
			Alternatives: []domain.PlanItem{
				{ID: "1-alt", Origin: domain.OriginLLM, Confidence: 0.85},
			},
		},
	}
	review := Assemble("scan1", "fp1", domain.MediaTV, items)
	item := review.Items[0]
	if item.Origin != domain.OriginLLM || item.Confidence != 0.85 {
		t.Errorf("Assemble() item = {origin:%v confidence:%v}, want LLM alternative adopted (Δ=0.25≥0.10)",
			item.Origin, item.Confidence)
	}
	if len(item.Alternatives) != 1 || item.Alternatives[0].Origin != domain.OriginDeterministic {
		t.Errorf("Assemble() did not retain the deterministic candidate as an alternative: %+v", item.Alternatives)
	}
}

func TestAssembleMergePolicyKeepsDeterministicBelowThreshold(t *testing.T) {
	items := []domain.PlanItem{
		{
			ID: "1", SrcPath: "a.mp4", Origin: domain.OriginDeterministic, Confidence: 0.8,
			Alternatives: []domain.PlanItem{
				{ID: "1-alt", Origin: domain.OriginLLM, Confidence: 0.85},
			},
		},
	}
	review := Assemble("scan1", "fp1", domain.MediaTV, items)
	item := review.Items[0]
	if item.Origin != domain.OriginDeterministic {
		t.Errorf("Assemble() item.Origin = %v, want deterministic kept (Δ=0.05<0.10)", item.Origin)
	}
	found := false
	for _, w := range item.Warnings {
		if w == domain.WarnTieBreakerDeterministic {
			found = true
		}
	}
	if !found {
		t.Errorf("Assemble() item.Warnings = %v, want tie_breaker_deterministic_preferred", item.Warnings)
	}
}

func TestMarshalPlanReviewIsByteReproducibleExcludingGeneratedAt(t *testing.T) {
	items := []domain.PlanItem{{ID: "1", SrcPath: "a.mp4", Confidence: 0.9, Dst: domain.Destination{Path: "A.mp4"}}}
	first := Assemble("scan1", "fp1", domain.MediaMovie, items)
	second := Assemble("scan1", "fp1", domain.MediaMovie, items)

	firstBytes, err := MarshalPlanReview(first)
	if err != nil {
		t.Fatalf("MarshalPlanReview() error = %v", err)
	}
	secondBytes, err := MarshalPlanReview(second)
	if err != nil {
		t.Fatalf("MarshalPlanReview() error = %v", err)
	}

	mask := func(b []byte) string {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(b, &m); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		delete(m, "generated_at")
		delete(m, "plan_id")
		out, err := json.Marshal(m)
		if err != nil {
			t.Fatalf("remarshal: %v", err)
		}
		return string(out)
	}

	if mask(firstBytes) != mask(secondBytes) {
		t.Errorf("MarshalPlanReview() not byte-reproducible after masking generated_at/plan_id")
	}
}

func TestMarshalPlanReviewUsesSnakeCaseKeys(t *testing.T) {
	review := Assemble("scan1", "fp1", domain.MediaMovie, nil)
	b, err := MarshalPlanReview(review)
	if err != nil {
		t.Fatalf("MarshalPlanReview() error = %v", err)
	}
	for _, key := range []string{`"plan_id"`, `"schema_version"`, `"generated_at"`, `"scan_id"`, `"source_fingerprint"`, `"media_type"`} {
		if !strings.Contains(string(b), key) {
			t.Errorf("MarshalPlanReview() output missing key %s: %s", key, b)
		}
	}
}

func TestNaturalCompareOrdersDigitRunsNumerically(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"file2.mp4", "file10.mp4", -1},
		{"file10.mp4", "file2.mp4", 1},
		{"File2.mp4", "file2.mp4", 0},
		{"a.mp4", "a.mp4", 0},
	}
	for _, c := range cases {
		if got := naturalCompare(c.a, c.b); got != c.want {
			t.Errorf("naturalCompare(%q, %q) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}
