package diskstore

import (
	"context"

	"github.com/scribd/lucid/internal/storeerr"
)

// Migration is one registered schema/data transformation. Version is the
// legacy integer migration counter; AppVersion is the semver string the
// source tracks alongside it, since later migrations may be expressed only
// in terms of app version (spec §4.6, §6).
type Migration struct {
	Version    int64
	AppVersion string
	Transform  func(ctx context.Context) error
}

// RunMigrations runs every migration in declared order whose Version (or,
// absent a legacy version bump, AppVersion) is newer than what
// store_settings records, via engine.Migrate's managed-context discipline.
// The highest version and app version actually applied are recorded once,
// after the full set completes successfully.
func RunMigrations(ctx context.Context, engine PersistenceEngine, migrations []Migration) error {
	lastVersion, lastAppVersion, err := engine.LoadSettings(ctx)
	if err != nil {
		return storeerr.Wrap("DiskStore.RunMigrations", storeerr.KindEngine, err)
	}

	highestVersion := lastVersion
	highestAppVersion := lastAppVersion

	for _, m := range migrations {
		if m.Version <= lastVersion && compareSemver(m.AppVersion, lastAppVersion) <= 0 {
			continue
		}
		err := engine.Migrate(ctx, m.Transform)
		if err != nil {
			return storeerr.Wrap("DiskStore.RunMigrations", storeerr.KindEngine, err)
		}
		if m.Version > highestVersion {
			highestVersion = m.Version
		}
		if compareSemver(m.AppVersion, highestAppVersion) > 0 {
			highestAppVersion = m.AppVersion
		}
	}

	if highestVersion == lastVersion && highestAppVersion == lastAppVersion {
		return nil
	}
	if err := engine.SaveSettings(ctx, highestVersion, highestAppVersion); err != nil {
		return storeerr.Wrap("DiskStore.RunMigrations", storeerr.KindEngine, err)
	}
	return nil
}

// compareSemver compares two dotted version strings numerically component
// by component, treating a missing component as 0. Returns -1, 0, or 1.
// A minimal comparator suffices here: migration app versions are plain
// major.minor.patch strings, never pre-release/build metadata.
func compareSemver(a, b string) int {
	as := splitVersion(a)
	bs := splitVersion(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv int
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	if v == "" {
		return nil
	}
	parts := make([]int, 0, 3)
	cur := 0
	started := false
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c >= '0' && c <= '9' {
			cur = cur*10 + int(c-'0')
			started = true
			continue
		}
		if c == '.' {
			parts = append(parts, cur)
			cur = 0
			started = false
			continue
		}
		// Non-numeric, non-dot character: stop parsing (no pre-release
		// suffixes expected in migration app versions).
		break
	}
	if started || cur != 0 {
		parts = append(parts, cur)
	}
	return parts
}
