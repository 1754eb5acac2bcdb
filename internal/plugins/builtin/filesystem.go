package builtin

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"checkengine/internal/plugin/api"
)

// filesystem is one row of the df section.
type filesystem struct {
	Device string
	Type   string
	SizeKB float64
	UsedKB float64
}

// UsedPercent returns the used share of the filesystem.
func (fs filesystem) UsedPercent() float64 {
	if fs.SizeKB == 0 {
		return 0
	}
	return fs.UsedKB / fs.SizeKB * 100
}

// parseDF reads "device type size used avail percent mountpoint" rows keyed by mount point.
// Rows that do not fit are skipped.
func parseDF(rows [][]string) (any, error) {
	section := make(map[string]filesystem, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		size, errSize := strconv.ParseFloat(row[2], 64)
		used, errUsed := strconv.ParseFloat(row[3], 64)
		if errSize != nil || errUsed != nil {
			continue
		}
		section[strings.Join(row[6:], " ")] = filesystem{Device: row[0], Type: row[1], SizeKB: size, UsedKB: used}
	}
	return section, nil
}

func dfSection() api.SectionPlugin {
	return api.SectionPlugin{Name: "df", ParseFunction: parseDF}
}

func dfCheck() api.CheckPlugin {
	return api.CheckPlugin{
		Name:              "df",
		ServiceName:       "Filesystem %s",
		DiscoveryFunction: discoverDF,
		DiscoveryDefaultParameters: api.Parameters{
			"ignore_fs_types": []any{"tmpfs", "devtmpfs", "overlay", "squashfs"},
		},
		DiscoveryRulesetName: "filesystem_discovery",
		CheckFunction:        checkDF,
		CheckDefaultParameters: api.Parameters{
			"levels": []any{80.0, 90.0},
		},
		CheckRulesetName: "filesystem",
	}
}

func discoverDF(req api.DiscoveryRequest) iter.Seq2[api.DiscoveredService, error] {
	return func(yield func(api.DiscoveredService, error) bool) {
		section, _ := req.Sections["section"].(map[string]filesystem)
		var ignored []string
		if list, ok := req.Params["ignore_fs_types"].([]any); ok {
			for _, v := range list {
				if s, ok := v.(string); ok {
					ignored = append(ignored, s)
				}
			}
		}
		mounts := make([]string, 0, len(section))
		for mount, fs := range section {
			if !slices.Contains(ignored, fs.Type) {
				mounts = append(mounts, mount)
			}
		}
		slices.Sort(mounts)
		for _, mount := range mounts {
			if !yield(api.DiscoveredService{Item: mount}, nil) {
				return
			}
		}
	}
}

// checkDF checks the used space of one mount point against percentage levels and
// reports the growth since the previous check.
func checkDF(_ context.Context, req api.CheckRequest) api.CheckResult {
	section, _ := req.Sections["section"].(map[string]filesystem)
	fs, ok := section[req.Item]
	if !ok {
		return api.Results()
	}
	lv, err := parseLevels(req.Params["levels"])
	if err != nil {
		return api.Fail(err)
	}

	percent := fs.UsedPercent()
	state := lv.upper(percent)
	usedBytes, sizeBytes := uint64(fs.UsedKB*1024), uint64(fs.SizeKB*1024)
	render := api.RenderPercent

	usedPercent := api.Metric("fs_used_percent", percent).WithBoundaries(0, 100)
	if lv.warn != nil {
		usedPercent = usedPercent.WithLevels(*lv.warn, *lv.crit)
	}
	outcomes := []api.Outcome{
		api.NewVerdict(state, fmt.Sprintf("Used: %s%s - %s of %s",
			render(percent), lv.describe(state, render), humanize.IBytes(usedBytes), humanize.IBytes(sizeBytes))),
		usedPercent,
		api.Metric("fs_used", float64(usedBytes)).WithBoundaries(0, float64(sizeBytes)),
		api.Metric("fs_size", float64(sizeBytes)),
	}

	if growth, ok := dailyGrowth(req.Store, fs.UsedKB*1024); ok {
		sign, abs := "+", growth
		if growth < 0 {
			sign, abs = "-", -growth
		}
		outcomes = append(outcomes,
			api.Notice(api.StateOK, fmt.Sprintf("Growth: %s%s/day", sign, humanize.IBytes(uint64(abs)))),
			api.Metric("fs_growth", growth),
		)
	}
	return api.Results(outcomes...)
}

// dailyGrowth stores the current usage and returns the growth per day since the
// previously stored usage.
func dailyGrowth(store api.ValueStore, used float64) (float64, bool) {
	if store == nil {
		return 0, false
	}
	current := float64(now().Unix())
	prevTime, okTime := store.Get("time")
	prevUsed, okUsed := store.Get("used")
	store.Set("time", current)
	store.Set("used", used)
	if !okTime || !okUsed {
		return 0, false
	}
	t, okT := toFloat(prevTime)
	u, okU := toFloat(prevUsed)
	if !okT || !okU || current <= t {
		return 0, false
	}
	return (used - u) / (current - t) * 86400, true
}
