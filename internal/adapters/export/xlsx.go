// Package export renders segment rankings as spreadsheets.
package export

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/okian/tabulator/internal/domain/model"
	"github.com/okian/tabulator/internal/domain/ranking"
)

// ContentType is the media type of the produced workbook.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ErrUnknownSegment is returned when the segment is not part of the competition.
var ErrUnknownSegment = errors.New("unknown segment")

var header = []any{"Rank", "Number", "Contestant", "Gender", "Score", "Advancing"}

// WriteRankingsXLSX writes one sheet per ranking group of a segment to w.
func WriteRankingsXLSX(w io.Writer, comp *model.Competition, segmentID string, res ranking.Result) error {
	if _, ok := comp.Segment(segmentID); !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSegment, segmentID)
	}
	contestants := make(map[string]model.Contestant, len(comp.Contestants))
	for _, c := range comp.Contestants {
		contestants[c.ID] = c
	}

	f := excelize.NewFile()
	defer f.Close()

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("header style: %w", err)
	}

	groups := groupsOf(res)
	for i, group := range groups {
		sheet := sheetName(group)
		if i == 0 {
			if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
				return fmt.Errorf("rename sheet: %w", err)
			}
		} else if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("add sheet %q: %w", sheet, err)
		}

		row := append([]any(nil), header...)
		if err := f.SetSheetRow(sheet, "A1", &row); err != nil {
			return err
		}
		if err := f.SetCellStyle(sheet, "A1", "F1", bold); err != nil {
			return err
		}
		for r, e := range res.Group(group) {
			axis, err := excelize.CoordinatesToCellName(1, r+2)
			if err != nil {
				return err
			}
			c := contestants[e.ContestantID]
			name := c.Name
			if name == "" {
				name = e.ContestantID
			}
			var number any
			if c.Number > 0 {
				number = c.Number
			}
			advancing := ""
			if e.Advancing {
				advancing = "yes"
			}
			cells := []any{e.Rank, number, name, string(c.Gender.Normalize()), e.Score, advancing}
			if err := f.SetSheetRow(sheet, axis, &cells); err != nil {
				return err
			}
		}
		if err := f.SetColWidth(sheet, "C", "C", 28); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func groupsOf(res ranking.Result) []string {
	var groups []string
	for _, e := range res.Entries() {
		if len(groups) == 0 || groups[len(groups)-1] != e.Group {
			groups = append(groups, e.Group)
		}
	}
	if len(groups) == 0 {
		groups = []string{ranking.GroupAll}
	}
	return groups
}

func sheetName(group string) string {
	if group == "" {
		return "All"
	}
	return strings.ToUpper(group[:1]) + group[1:]
}
