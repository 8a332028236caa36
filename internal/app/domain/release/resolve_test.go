package release

import (
	"testing"
	"time"
)

func rel(version string, dev bool, published time.Time, seq int64) Release {
	return Release{Version: version, DevBuild: dev, Published: published, Seq: seq}
}

func TestLatestPrefersNewestPublished(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	releases := []Release{
		rel("1.0", false, base, 1),
		rel("1.1", false, base.Add(time.Hour), 2),
		rel("1.2-dev", true, base.Add(2*time.Hour), 3),
	}

	latest, ok := Latest(releases)
	if !ok || latest.Version != "1.2-dev" {
		t.Fatalf("expected latest 1.2-dev, got %v (ok=%v)", latest.Version, ok)
	}

	stable, ok := LatestStable(releases)
	if !ok || stable.Version != "1.1" {
		t.Fatalf("expected latest stable 1.1, got %v (ok=%v)", stable.Version, ok)
	}
}

func TestLatestStableNeverReturnsDevBuild(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	releases := []Release{
		rel("0.9", false, base, 1),
		rel("1.0-snapshot", true, base.Add(time.Hour), 2),
	}
	stable, ok := LatestStable(releases)
	if !ok || stable.DevBuild {
		t.Fatalf("latest stable returned dev build: %#v", stable)
	}

	onlyDev := []Release{rel("1.0-snapshot", true, base, 1)}
	if _, ok := LatestStable(onlyDev); ok {
		t.Fatalf("expected no stable release")
	}
}

func TestEqualPublishedTieBreaksOnSequence(t *testing.T) {
	when := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	releases := []Release{
		rel("a", false, when, 1),
		rel("b", false, when, 2),
	}
	latest, ok := Latest(releases)
	if !ok || latest.Version != "b" {
		t.Fatalf("expected later insertion to win the tie, got %v", latest.Version)
	}
}

func TestResolveLatestEqualsHeadOfSortedList(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	releases := []Release{
		rel("1.0", false, base, 1),
		rel("2.0-dev", true, base.Add(time.Minute), 2),
		rel("1.5", false, base.Add(30*time.Second), 3),
	}

	viaKey, ok := Resolve(releases, "LATEST")
	if !ok {
		t.Fatalf("resolve latest failed")
	}
	sorted := Sorted(releases, true)
	if len(sorted) != 3 || sorted[0].Version != viaKey.Version {
		t.Fatalf("get latest (%s) != head of list (%s)", viaKey.Version, sorted[0].Version)
	}
}

func TestResolveNormalizesKeys(t *testing.T) {
	releases := []Release{rel("alpha build 1", true, time.Now(), 1)}

	if _, ok := Resolve(releases, "Alpha_Build_1"); !ok {
		t.Fatalf("expected underscore and case normalization to match")
	}
	if _, ok := Resolve(releases, "alpha build 2"); ok {
		t.Fatalf("expected miss for unknown version")
	}
}

func TestSortedFiltersDevBuilds(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	releases := []Release{
		rel("1.0", false, base, 1),
		rel("1.1-dev", true, base.Add(time.Hour), 2),
	}
	stableOnly := Sorted(releases, false)
	if len(stableOnly) != 1 || stableOnly[0].Version != "1.0" {
		t.Fatalf("unexpected stable list: %#v", stableOnly)
	}
	all := Sorted(releases, true)
	if len(all) != 2 || all[0].Version != "1.1-dev" {
		t.Fatalf("unexpected full list: %#v", all)
	}
}

func TestValidVersion(t *testing.T) {
	for _, good := range []string{"1.0.1", "2.0 RC1", "v1_0", "build-7"} {
		if !ValidVersion(good) {
			t.Fatalf("expected %q to be valid", good)
		}
	}
	for _, bad := range []string{"", "1.0/2", "v1!", "a\tb"} {
		if ValidVersion(bad) {
			t.Fatalf("expected %q to be invalid", bad)
		}
	}
}
