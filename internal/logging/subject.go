package logging

import "strings"

// FormatSubject builds the operation/job/stage subject string used in console output.
func FormatSubject(operation, jobID, stage string) string {
	operation = strings.TrimSpace(operation)
	jobID = strings.TrimSpace(jobID)
	stage = strings.TrimSpace(stage)
	parts := make([]string, 0, 3)
	if operation != "" {
		var formattedOp string
		if len(operation) > 1 {
			formattedOp = strings.ToUpper(operation[:1]) + strings.ToLower(operation[1:])
		} else {
			formattedOp = strings.ToUpper(operation)
		}
		parts = append(parts, formattedOp)
	}
	switch {
	case jobID != "" && stage != "":
		parts = append(parts, "Job "+jobID+" ("+stage+")")
	case jobID != "":
		parts = append(parts, "Job "+jobID)
	case stage != "":
		parts = append(parts, stage)
	}
	return strings.Join(parts, " · ")
}
