package email

const (
	subjectVerificationLinkFmt   = "Complete your verification %s"
	subjectRevisionRequestFmt    = "Action needed: corrections for verification %s"
	subjectVerificationRejectFmt = "Verification %s could not be completed"
)
