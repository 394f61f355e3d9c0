package audit

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/dsmaudit/dsmaudit/internal/syno"
)

// rankingCategories are the activity types ranked in the report, in
// sheet order.
var rankingCategories = []string{"Upload", "Download", "Delete"}

// rankingTopN caps each leaderboard.
const rankingTopN = 10

// rankingHeader is the export column order.
var rankingHeader = []string{"Rank", "User", "Count", "Name", "Email"}

// Profile carries the directory attributes shown next to a ranked
// user.
type Profile struct {
	Name  string
	Email string
}

// Profiles indexes user-info records by account name. Records without
// a name are skipped; absent description or email attributes fall back
// to N/A.
func Profiles(users []syno.RawRecord) map[string]Profile {
	profiles := make(map[string]Profile, len(users))
	for _, u := range users {
		account := u.Str("name")
		if account == "" {
			continue
		}
		profiles[account] = Profile{
			Name:  orNA(u.Str("description")),
			Email: orNA(u.Str("email")),
		}
	}
	return profiles
}

// RankEntry is one leaderboard row.
type RankEntry struct {
	Rank  int
	User  string
	Count int
	Name  string
	Email string
}

// Ranking holds the per-category leaderboards of one collection.
type Ranking struct {
	tables map[string][]RankEntry
}

// BuildRanking counts events per user for each ranked category and
// keeps the ten most active. An entry counts toward a category when
// its event label contains the category label. The sort is stable, so
// users with equal counts keep first-seen order. Users missing from
// profiles get empty name and email, distinct from the N/A a profile
// carries for attributes the directory left blank.
func BuildRanking(entries []FileEntry, profiles map[string]Profile) *Ranking {
	r := &Ranking{tables: make(map[string][]RankEntry)}
	for _, category := range rankingCategories {
		counts := make(map[string]int)
		var order []string
		for _, e := range entries {
			if !strings.Contains(e.Event, category) {
				continue
			}
			if _, seen := counts[e.User]; !seen {
				order = append(order, e.User)
			}
			counts[e.User]++
		}
		if len(order) == 0 {
			continue
		}

		table := make([]RankEntry, 0, len(order))
		for _, user := range order {
			p := profiles[user]
			table = append(table, RankEntry{User: user, Count: counts[user], Name: p.Name, Email: p.Email})
		}
		sort.SliceStable(table, func(i, j int) bool { return table[i].Count > table[j].Count })
		if len(table) > rankingTopN {
			table = table[:rankingTopN]
		}
		for i := range table {
			table[i].Rank = i + 1
		}
		r.tables[category] = table
	}
	return r
}

// Table returns the leaderboard for one category, nil when the
// category saw no events.
func (r *Ranking) Table(category string) []RankEntry { return r.tables[category] }

// Empty reports whether no category has any ranked user.
func (r *Ranking) Empty() bool { return len(r.tables) == 0 }

// Flush writes one styled sheet per non-empty category to a
// timestamped workbook under dir, then clears the leaderboards. With
// every category empty nothing is written and the path is empty.
func (r *Ranking) Flush(dir string) (string, error) {
	if r.Empty() {
		return "", nil
	}

	f := excelize.NewFile()
	defer f.Close()

	styles, err := newRankingStyles(f)
	if err != nil {
		return "", fmt.Errorf("flush ranking: %w", err)
	}

	first := true
	for _, category := range rankingCategories {
		table := r.tables[category]
		if len(table) == 0 {
			continue
		}
		sheet := category + " Ranking"
		if first {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return "", fmt.Errorf("flush ranking: %w", err)
			}
			first = false
		} else if _, err := f.NewSheet(sheet); err != nil {
			return "", fmt.Errorf("flush ranking: %w", err)
		}
		if err := writeRankingSheet(f, sheet, category, table, styles); err != nil {
			return "", fmt.Errorf("flush ranking: %w", err)
		}
	}

	path := exportPath(dir, "NAS_Ranking_Log", time.Now())
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("flush ranking: save workbook: %w", err)
	}
	r.tables = make(map[string][]RankEntry)
	return path, nil
}

// writeRankingSheet lays out one leaderboard: a merged title row, a
// styled header row, then the ranked users.
func writeRankingSheet(f *excelize.File, sheet, category string, table []RankEntry, styles rankingStyles) error {
	if err := f.MergeCell(sheet, "A1", "E1"); err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, "A1", category+" Count Ranking"); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", "E1", styles.title); err != nil {
		return err
	}

	if err := writeRow(f, sheet, 2, toCells(rankingHeader)); err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A2", "E2", styles.header); err != nil {
		return err
	}

	for i, e := range table {
		if err := writeRow(f, sheet, i+3, []any{e.Rank, e.User, e.Count, e.Name, e.Email}); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, "A3", fmt.Sprintf("E%d", len(table)+2), styles.data); err != nil {
		return err
	}

	widths := []struct {
		col   string
		width float64
	}{
		{"A", 8},
		{"B", 15},
		{"C", 10},
		{"D", 15},
		{"E", 25},
	}
	for _, w := range widths {
		if err := f.SetColWidth(sheet, w.col, w.col, w.width); err != nil {
			return err
		}
	}
	return nil
}

type rankingStyles struct {
	title  int
	header int
	data   int
}

func newRankingStyles(f *excelize.File) (rankingStyles, error) {
	center := &excelize.Alignment{Horizontal: "center", Vertical: "center"}
	thin := []excelize.Border{
		{Type: "left", Style: 1, Color: "000000"},
		{Type: "right", Style: 1, Color: "000000"},
		{Type: "top", Style: 1, Color: "000000"},
		{Type: "bottom", Style: 1, Color: "000000"},
	}

	title, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 14},
		Alignment: center,
	})
	if err != nil {
		return rankingStyles{}, err
	}
	header, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Alignment: center,
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"BFD1E5"}, Pattern: 1},
		Border:    thin,
	})
	if err != nil {
		return rankingStyles{}, err
	}
	data, err := f.NewStyle(&excelize.Style{
		Alignment: center,
		Border:    thin,
	})
	if err != nil {
		return rankingStyles{}, err
	}
	return rankingStyles{title: title, header: header, data: data}, nil
}
