package dashboard

import (
	"sort"
	"strings"

	"goflare.io/pulse/internal/models"
)

const (
	maxCategories     = 5
	otherCategory     = "Other"
	unspecifiedSector = "Unspecified"
)

// 固定色盤，依索引循環使用
var palette = []string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6", "#6B7280"}

// categoryDistribution groups companies by sector. The five largest groups
// are kept and the rest fold into Other; percentages always add up to 100.
func categoryDistribution(companies []models.Company) []models.CategoryShare {
	if len(companies) == 0 {
		return []models.CategoryShare{}
	}

	counts := make(map[string]int)
	for _, c := range companies {
		name := strings.TrimSpace(c.Sector)
		if name == "" {
			name = unspecifiedSector
		}
		counts[name]++
	}

	groups := make([]models.CategoryShare, 0, len(counts))
	for name, n := range counts {
		groups = append(groups, models.CategoryShare{Name: name, Count: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Name < groups[j].Name
	})

	if len(groups) > maxCategories {
		rest := 0
		for _, g := range groups[maxCategories:] {
			rest += g.Count
		}
		groups = append(groups[:maxCategories], models.CategoryShare{Name: otherCategory, Count: rest})
	}

	apportion(groups, len(companies))
	colorize(groups)
	return groups
}

// apportion assigns integer percentages by largest remainder so the sum is
// exactly 100. A share can therefore differ by one point from
// round(100*count/total): {1,1,1} gives 34/33/33.
func apportion(groups []models.CategoryShare, total int) {
	if total <= 0 {
		return
	}

	type remainder struct {
		index int
		rest  int
	}

	assigned := 0
	rems := make([]remainder, len(groups))
	for i := range groups {
		scaled := groups[i].Count * 100
		groups[i].Percentage = scaled / total
		assigned += groups[i].Percentage
		rems[i] = remainder{index: i, rest: scaled % total}
	}

	sort.SliceStable(rems, func(i, j int) bool { return rems[i].rest > rems[j].rest })
	for k := 0; assigned < 100 && k < len(rems); k++ {
		groups[rems[k].index].Percentage++
		assigned++
	}
}

func colorize(groups []models.CategoryShare) {
	for i := range groups {
		if groups[i].Color == "" {
			groups[i].Color = palette[i%len(palette)]
		}
	}
}
