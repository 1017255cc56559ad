package gradebook

import (
	"fmt"
	"io"
	"regexp"
	"strings"
	"unicode"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

// Table is one sheet of tabular input. The first row holds headers and the first column holds
// student names.
type Table struct {
	Name string
	Rows [][]string
}

// ImportReport describes what an import changed.
type ImportReport struct {
	Applied         bool     `json:"applied"`
	StudentsCreated int      `json:"studentsCreated"`
	ColumnsCreated  []string `json:"columnsCreated"`
	ScoresWritten   int      `json:"scoresWritten"`
	CellsSkipped    int      `json:"cellsSkipped"`
}

// ParseText splits pasted text into a table. Cells are tab separated; when the header row has
// no tab, ';' and then ',' are tried.
func ParseText(text string) Table {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) == "" {
		return Table{}
	}
	sep := "\t"
	switch {
	case strings.Contains(lines[0], "\t"):
	case strings.Contains(lines[0], ";"):
		sep = ";"
	case strings.Contains(lines[0], ","):
		sep = ","
	}
	rows := make([][]string, 0, len(lines))
	for _, line := range lines {
		rows = append(rows, strings.Split(line, sep))
	}
	return Table{Rows: rows}
}

// ReadWorkbook reads every sheet of a spreadsheet in workbook order.
func ReadWorkbook(r io.Reader) ([]Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnrecognizedSheet.Code, appErrors.ErrUnrecognizedSheet.Status, "could not read workbook")
	}
	defer f.Close() //nolint:errcheck

	sheets := f.GetSheetList()
	tables := make([]Table, 0, len(sheets))
	for _, name := range sheets {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrUnrecognizedSheet.Code, appErrors.ErrUnrecognizedSheet.Status, fmt.Sprintf("could not read sheet %s", name))
		}
		tables = append(tables, Table{Name: name, Rows: rows})
	}
	return tables, nil
}

var (
	headerTermPattern = regexp.MustCompile(`^[Tt]([1-3])[-_: ](.+)$`)

	sheetTermPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\bt([1-3])\b`),
		regexp.MustCompile(`trimestre\s*([1-3])\b`),
		regexp.MustCompile(`\b([1-3])\s*(?:er|ro|do|o|°|º)?\s*trimestre`),
	}
	sheetTermWords = []struct {
		pattern *regexp.Regexp
		term    models.TermID
	}{
		{regexp.MustCompile(`\bprimer(o)?\b`), models.TermT1},
		{regexp.MustCompile(`\bsegundo\b`), models.TermT2},
		{regexp.MustCompile(`\btercer(o)?\b`), models.TermT3},
	}
)

// foldName lower-cases s and strips diacritics.
func foldName(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(strings.TrimSpace(out))
}

// SheetTerm infers the term a sheet name refers to.
func SheetTerm(name string) (models.TermID, bool) {
	folded := foldName(name)
	if folded == "" {
		return "", false
	}
	for _, p := range sheetTermPatterns {
		if m := p.FindStringSubmatch(folded); m != nil {
			return models.TermID("T" + m[1]), true
		}
	}
	for _, w := range sheetTermWords {
		if w.pattern.MatchString(folded) {
			return w.term, true
		}
	}
	return "", false
}

// ParseHeader splits a "T2-Examen" style header into term and title.
func ParseHeader(header string) (models.TermID, string, bool) {
	m := headerTermPattern.FindStringSubmatch(strings.TrimSpace(header))
	if m == nil {
		return "", "", false
	}
	title := strings.TrimSpace(m[2])
	if title == "" {
		return "", "", false
	}
	return models.TermID("T" + m[1]), title, true
}

func usableRows(t Table) [][]string {
	rows := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		for _, cell := range row {
			if strings.TrimSpace(cell) != "" {
				rows = append(rows, row)
				break
			}
		}
	}
	return rows
}

type importTarget struct {
	term  models.TermID
	title string
}

// Import ingests tables as score edits. Qualitative gradebooks and structurally unusable input
// are rejected before anything changes; a closed edit gate makes the import a silent no-op.
// The whole import is one undo step.
func (s *Session) Import(tables []Table) (ImportReport, error) {
	report := ImportReport{ColumnsCreated: []string{}}
	if s.cur.Settings.Mode == models.GradingModeQualitative {
		return report, appErrors.ErrQualitativeImport
	}

	sheets := make([]Table, 0, len(tables))
	for _, t := range tables {
		rows := usableRows(t)
		if len(rows) == 0 {
			continue
		}
		sheets = append(sheets, Table{Name: t.Name, Rows: rows})
	}
	if len(sheets) == 0 {
		return report, appErrors.ErrEmptyImport
	}
	for _, t := range sheets {
		headers := 0
		for _, h := range t.Rows[0][1:] {
			if strings.TrimSpace(h) != "" {
				headers++
			}
		}
		if len(t.Rows[0]) < 2 || headers == 0 {
			return report, appErrors.Clone(appErrors.ErrUnrecognizedSheet, fmt.Sprintf("sheet %q has no evaluation columns", t.Name))
		}
	}

	next, ok := s.begin("import")
	if !ok {
		return report, nil
	}

	columns := append([]models.Column(nil), s.cur.Columns...)
	students := append([]models.Student(nil), s.cur.Students...)
	grades := make(models.ScoreTable, len(s.cur.Grades))
	for sid, row := range s.cur.Grades {
		grades[sid] = row
	}
	ownedRows := make(map[string]bool)
	renorm := make(map[models.TermID]bool)

	for _, t := range sheets {
		sheetTerm, sheetHasTerm := SheetTerm(t.Name)
		if sheetHasTerm && findTerm(s.cur, sheetTerm) < 0 {
			sheetHasTerm = false
		}

		header := t.Rows[0]
		targets := make([]int, len(header))
		for i := range targets {
			targets[i] = -1
		}
		for i := 1; i < len(header); i++ {
			raw := strings.TrimSpace(header[i])
			if raw == "" {
				continue
			}
			target := importTarget{term: s.cur.CurrentTerm, title: raw}
			if sheetHasTerm {
				target.term = sheetTerm
			} else if term, title, ok := ParseHeader(raw); ok && findTerm(s.cur, term) >= 0 {
				target = importTarget{term: term, title: title}
			}
			idx := -1
			for j, col := range columns {
				if col.TermID == target.term && strings.EqualFold(strings.TrimSpace(col.Title), target.title) {
					idx = j
					break
				}
			}
			if idx < 0 {
				columns = append(columns, models.Column{ID: s.newID(), Title: target.title, Weight: 1, TermID: target.term})
				idx = len(columns) - 1
				renorm[target.term] = true
				report.ColumnsCreated = append(report.ColumnsCreated, string(target.term)+":"+target.title)
			}
			targets[i] = idx
		}

		for _, row := range t.Rows[1:] {
			if len(row) == 0 {
				continue
			}
			name := strings.TrimSpace(row[0])
			if name == "" {
				continue
			}
			studentID := ""
			for _, st := range students {
				if st.Name == name {
					studentID = st.ID
					break
				}
			}
			if studentID == "" {
				studentID = s.newID()
				students = append(students, models.Student{ID: studentID, Name: name})
				report.StudentsCreated++
			}
			for i := 1; i < len(row) && i < len(targets); i++ {
				if targets[i] < 0 || strings.TrimSpace(row[i]) == "" {
					continue
				}
				col := columns[targets[i]]
				value, ok := ParseNumber(row[i])
				if !ok || col.Locked {
					report.CellsSkipped++
					continue
				}
				if !ownedRows[studentID] {
					r := make(map[string]float64, len(grades[studentID])+1)
					for cid, v := range grades[studentID] {
						r[cid] = v
					}
					grades[studentID] = r
					ownedRows[studentID] = true
				}
				grades[studentID][col.ID] = Normalize(value, col, s.cur.Settings)
				report.ScoresWritten++
			}
		}
	}

	if report.StudentsCreated == 0 && len(report.ColumnsCreated) == 0 && report.ScoresWritten == 0 {
		return report, nil
	}
	for term := range renorm {
		renormalize(columns, term)
	}
	next.Columns = columns
	next.Students = students
	next.Grades = grades
	s.commit(next)
	report.Applied = true
	return report, nil
}
