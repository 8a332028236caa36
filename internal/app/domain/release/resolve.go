package release

import "sort"

// newer reports whether a should sort before b in published-descending order.
// Equal timestamps fall back to the insertion sequence, newest first, so the
// ordering is deterministic.
func newer(a, b Release) bool {
	if !a.Published.Equal(b.Published) {
		return a.Published.After(b.Published)
	}
	return a.Seq > b.Seq
}

// Newer reports whether a was published after b. Equal timestamps fall back
// to the insertion sequence.
func Newer(a, b Release) bool {
	return newer(a, b)
}

// Sorted returns the releases ordered by published time descending. Dev
// builds are filtered out unless includeDev is set. The input is not
// modified.
func Sorted(releases []Release, includeDev bool) []Release {
	out := make([]Release, 0, len(releases))
	for _, r := range releases {
		if includeDev || !r.DevBuild {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return newer(out[i], out[j]) })
	return out
}

// Latest returns the most recently published release, dev builds included.
func Latest(releases []Release) (Release, bool) {
	return pickLatest(releases, true)
}

// LatestStable returns the most recently published non-dev release.
func LatestStable(releases []Release) (Release, bool) {
	return pickLatest(releases, false)
}

func pickLatest(releases []Release, includeDev bool) (Release, bool) {
	var best Release
	found := false
	for _, r := range releases {
		if !includeDev && r.DevBuild {
			continue
		}
		if !found || newer(r, best) {
			best = r
			found = true
		}
	}
	return best, found
}

// Resolve looks up a release by key. The reserved key "latest"
// (case-insensitive) resolves to the most recent release including dev
// builds; any other key is matched exactly after normalization.
func Resolve(releases []Release, key string) (Release, bool) {
	if NormalizeKey(key) == LatestKey {
		return Latest(releases)
	}
	for _, r := range releases {
		if KeysEqual(r.Version, key) {
			return r, true
		}
	}
	return Release{}, false
}
