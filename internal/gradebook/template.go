package gradebook

import (
	"github.com/noah-isme/sma-gradebook/internal/models"
	"github.com/noah-isme/sma-gradebook/pkg/config"
)

// DefaultsFromTemplate overlays a configured template on the built-in defaults.
func DefaultsFromTemplate(tpl *config.Template) Defaults {
	d := DefaultDefaults()
	if tpl == nil {
		return d
	}
	if len(tpl.Terms) > 0 {
		d.Terms = make([]models.Term, 0, len(tpl.Terms))
		for _, t := range tpl.Terms {
			d.Terms = append(d.Terms, models.Term{ID: models.TermID(t.ID), Name: t.Name, Weight: t.Weight})
		}
		d.CurrentTerm = d.Terms[0].ID
	}
	if tpl.CurrentTerm != "" {
		d.CurrentTerm = models.TermID(tpl.CurrentTerm)
	}
	for _, c := range tpl.Categories {
		term := models.TermID(c.Term)
		d.Categories[term] = append(d.Categories[term], models.Category{ID: c.ID, Name: c.Name, Weight: c.Weight})
	}
	if tpl.Scoring.Rounding != "" {
		d.Rounding = models.RoundingMode(tpl.Scoring.Rounding)
	}
	if tpl.Scoring.Decimals != nil {
		d.Decimals = *tpl.Scoring.Decimals
	}
	if tpl.Scoring.MinScore != nil {
		d.MinScore = *tpl.Scoring.MinScore
	}
	if tpl.Scoring.MaxScore != nil {
		d.MaxScore = *tpl.Scoring.MaxScore
	}
	if tpl.History.Limit > 0 {
		d.HistoryLimit = tpl.History.Limit
	}
	return d
}
