package model

import "net/http"

// JobReport is the outcome summary of one scheduled run (retry or cleanup).
type JobReport struct {
	Processed int      `json:"processed"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors"`
	DryRun    bool     `json:"dryRun,omitempty"`
}

// Record folds one unit outcome into the report.
func (r *JobReport) Record(err error) {
	r.Processed++
	if err != nil {
		r.Failed++
		r.Errors = append(r.Errors, err.Error())
		return
	}
	r.Succeeded++
}

// HTTPStatus maps the report to 200 (all succeeded), 207 (partial) or
// 500 (nothing succeeded while something failed).
func (r *JobReport) HTTPStatus() int {
	switch {
	case r.Failed == 0:
		return http.StatusOK
	case r.Succeeded > 0:
		return http.StatusMultiStatus
	default:
		return http.StatusInternalServerError
	}
}
