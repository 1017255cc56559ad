package gradebook

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/sma-gradebook/internal/models"
	appErrors "github.com/noah-isme/sma-gradebook/pkg/errors"
)

func TestParseText(t *testing.T) {
	table := ParseText("Nombre\tExamen\r\nAna\t80\r\n")
	assert.Equal(t, [][]string{{"Nombre", "Examen"}, {"Ana", "80"}}, table.Rows)

	table = ParseText("Nombre;Examen\nAna;80,5")
	assert.Equal(t, [][]string{{"Nombre", "Examen"}, {"Ana", "80,5"}}, table.Rows)

	table = ParseText("Nombre,Examen\nAna,80")
	assert.Equal(t, [][]string{{"Nombre", "Examen"}, {"Ana", "80"}}, table.Rows)

	assert.Empty(t, ParseText("").Rows)
}

func TestSheetTerm(t *testing.T) {
	cases := []struct {
		name string
		want models.TermID
		ok   bool
	}{
		{"T2", models.TermT2, true},
		{"Notas t3", models.TermT3, true},
		{"Trimestre 1", models.TermT1, true},
		{"1er Trimestre", models.TermT1, true},
		{"2do trimestre", models.TermT2, true},
		{"3° Trimestre", models.TermT3, true},
		{"Primer Trimestre", models.TermT1, true},
		{"SEGUNDO", models.TermT2, true},
		{"Tercer trimestre", models.TermT3, true},
		{"Sheet1", "", false},
		{"Hoja1", "", false},
		{"Matemáticas", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := SheetTerm(tc.name)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseHeader(t *testing.T) {
	term, title, ok := ParseHeader("T2-Examen final")
	require.True(t, ok)
	assert.Equal(t, models.TermT2, term)
	assert.Equal(t, "Examen final", title)

	term, title, ok = ParseHeader("t3: Práctica")
	require.True(t, ok)
	assert.Equal(t, models.TermT3, term)
	assert.Equal(t, "Práctica", title)

	for _, header := range []string{"Examen", "T4-Examen", "T1-", "Tarea 2"} {
		_, _, ok := ParseHeader(header)
		assert.False(t, ok, header)
	}
}

func TestImportPastedText(t *testing.T) {
	s := newTestSession(t, nil)
	table := ParseText("Nombre\tT2-Examen\tPráctica\nAna\t80\t70,5\nCarla\tx\t90\n")

	report, err := s.Import([]Table{table})
	require.NoError(t, err)
	assert.True(t, report.Applied)
	assert.Equal(t, 1, report.StudentsCreated)
	assert.Equal(t, []string{"T2:Examen", "T1:Práctica"}, report.ColumnsCreated)
	assert.Equal(t, 3, report.ScoresWritten)
	assert.Equal(t, 1, report.CellsSkipped)

	st := s.State()
	require.Len(t, st.Students, 3)
	assert.Equal(t, "Carla", st.Students[2].Name)
	exam := TermColumns(st, models.TermT2)
	require.Len(t, exam, 1)
	assert.Equal(t, "Examen", exam[0].Title)
	assert.Equal(t, 1.0, exam[0].Weight)
	practice := TermColumns(st, models.TermT1)
	require.Len(t, practice, 1)

	assert.Equal(t, 80.0, st.Grades["ana"][exam[0].ID])
	assert.Equal(t, 71.0, st.Grades["ana"][practice[0].ID])
	assert.Equal(t, 90.0, st.Grades[st.Students[2].ID][practice[0].ID])

	assert.Equal(t, 1, s.History().UndoDepth())
	require.True(t, s.Undo())
	assert.Len(t, s.State().Students, 2)
	assert.Empty(t, s.State().Columns)
}

func TestImportMatchesExistingColumns(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Columns = []models.Column{
			{ID: "c1", Title: "examen", Weight: 0.5, TermID: models.TermT1},
			{ID: "c2", Title: "Tarea", Weight: 0.5, TermID: models.TermT1, Locked: true},
		}
	})
	report, err := s.Import([]Table{ParseText("Nombre;EXAMEN;Tarea\nAna;95;60\n")})
	require.NoError(t, err)
	assert.Empty(t, report.ColumnsCreated)
	assert.Equal(t, 1, report.ScoresWritten)
	assert.Equal(t, 1, report.CellsSkipped)
	assert.Equal(t, 95.0, s.State().Grades["ana"]["c1"])
	assert.NotContains(t, s.State().Grades["ana"], "c2")
	assert.Equal(t, 0.5, s.State().Columns[0].Weight)
}

func TestImportSheetTermWinsOverHeader(t *testing.T) {
	s := newTestSession(t, nil)
	report, err := s.Import([]Table{{
		Name: "Segundo Trimestre",
		Rows: [][]string{{"Estudiante", "T3-Final"}, {"Luis", "55"}},
	}})
	require.NoError(t, err)
	assert.Equal(t, []string{"T2:T3-Final"}, report.ColumnsCreated)
	assert.Empty(t, TermColumns(s.State(), models.TermT3))
}

func TestImportWorkbook(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "1er Trimestre"))
	_, err := f.NewSheet("Hoja2")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("1er Trimestre", "A1", &[]interface{}{"Nombre", "Parcial"}))
	require.NoError(t, f.SetSheetRow("1er Trimestre", "A2", &[]interface{}{"Ana", 88}))
	require.NoError(t, f.SetSheetRow("Hoja2", "A1", &[]interface{}{"Nombre", "T3-Oral"}))
	require.NoError(t, f.SetSheetRow("Hoja2", "A2", &[]interface{}{"Luis", "64"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tables, err := ReadWorkbook(buf)
	require.NoError(t, err)
	require.Len(t, tables, 2)

	s := newTestSession(t, nil)
	report, err := s.Import(tables)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1:Parcial", "T3:Oral"}, report.ColumnsCreated)
	assert.Equal(t, 2, report.ScoresWritten)
	assert.Equal(t, 1, s.History().UndoDepth())

	oral := TermColumns(s.State(), models.TermT3)
	require.Len(t, oral, 1)
	assert.Equal(t, 64.0, s.State().Grades["luis"][oral[0].ID])
}

func TestReadWorkbookRejectsGarbage(t *testing.T) {
	_, err := ReadWorkbook(strings.NewReader("not a workbook"))
	assert.ErrorIs(t, err, appErrors.ErrUnrecognizedSheet)
}

func TestImportErrors(t *testing.T) {
	qualitative := newTestSession(t, func(st *models.GradebookState) {
		st.Settings.EducationLevel = models.EducationLevelInitial
	})
	_, err := qualitative.Import([]Table{ParseText("Nombre\tA\nAna\tAD")})
	assert.ErrorIs(t, err, appErrors.ErrQualitativeImport)

	s := newTestSession(t, nil)
	_, err = s.Import([]Table{{Rows: [][]string{{"", ""}, {" "}}}})
	assert.ErrorIs(t, err, appErrors.ErrEmptyImport)

	_, err = s.Import([]Table{ParseText("Nombre\nAna\nLuis")})
	assert.ErrorIs(t, err, appErrors.ErrUnrecognizedSheet)

	assert.Equal(t, uint64(0), s.Version())
}

func TestImportWithClosedGateIsNoop(t *testing.T) {
	s := newTestSession(t, func(st *models.GradebookState) {
		st.Status = models.GradebookStatusApproved
	})
	report, err := s.Import([]Table{ParseText("Nombre\tExamen\nAna\t70")})
	require.NoError(t, err)
	assert.False(t, report.Applied)
	assert.Empty(t, s.State().Columns)
	assert.Equal(t, 0, s.History().UndoDepth())
}
