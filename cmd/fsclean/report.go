package main

import (
	"freespace_cleaner/internal/reporting"
	"freespace_cleaner/internal/session"
)

// reportingFor builds the run report and saves it when reporting is enabled.
func reportingFor(sum session.Summary) *reporting.Report {
	report := reporting.GenerateReport(sum, cfg, profile, dryRun)
	for _, f := range report.Findings {
		logger.Log("INFO", "Finding", "id", f.ID, "severity", f.Severity, "title", f.Title)
	}

	path, err := reporting.SaveReport(report, cfg)
	if err != nil {
		logger.Log("WARN", "Failed to save report", "error", err)
	} else if path != "" {
		logger.Log("INFO", "Report saved", "run_id", report.RunID, "file", path)
	}
	return report
}
