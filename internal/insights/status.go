package insights

// Status messages reported while polling a session.
const (
	MsgSessionNotFound   = "Session not found"
	MsgSearching         = "Searching marketplaces..."
	MsgAnalysisFailed    = "Analysis failed"
	MsgProductsScraped   = "Products scraped, analyzing reviews..."
	MsgReviewsAnalyzed   = "Reviews analyzed, extracting keywords..."
	MsgKeywordsExtracted = "Keywords extracted, generating recommendations..."
	MsgCompleted         = "Analysis completed successfully"
)

// MsgInterrupted is the error text of a job cut short by shutdown or a crash.
const MsgInterrupted = "analysis interrupted"

// DeriveStatus maps stored row counts to a progress indicator. session may be
// nil when no session record exists; it is consulted only to tell a job that
// has not written products yet apart from an unknown or failed one.
func DeriveStatus(sessionID string, counts RowCounts, session *Session) SessionStatus {
	status := progressFromCounts(counts)
	status.SessionID = sessionID

	if counts.Products == 0 {
		switch {
		case session == nil:
			status.Status, status.Progress, status.Message = StateFailed, 0, MsgSessionNotFound
		case session.JobState == JobFailed:
			status.Status, status.Progress, status.Message = StateFailed, 0, failureText(session)
		case session.JobState.Active():
			status.Status, status.Progress, status.Message = StateStarted, 0, MsgSearching
		}
		return status
	}

	if session != nil && session.JobState == JobFailed && status.Status != StateCompleted {
		status.Status = StateFailed
		status.Message = failureText(session)
	}
	return status
}

func progressFromCounts(counts RowCounts) SessionStatus {
	switch {
	case counts.Products == 0:
		return SessionStatus{Status: StateFailed, Progress: 0, Message: MsgSessionNotFound}
	case counts.Reviews == 0:
		return SessionStatus{Status: StateStarted, Progress: 25, Message: MsgProductsScraped}
	case counts.Keywords == 0:
		return SessionStatus{Status: StateInProgress, Progress: 50, Message: MsgReviewsAnalyzed}
	case counts.Recommendations == 0:
		return SessionStatus{Status: StateInProgress, Progress: 75, Message: MsgKeywordsExtracted}
	default:
		return SessionStatus{Status: StateCompleted, Progress: 100, Message: MsgCompleted}
	}
}

func failureText(session *Session) string {
	if session.ErrorText != "" {
		return session.ErrorText
	}
	return MsgAnalysisFailed
}
