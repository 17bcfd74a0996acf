package model

// Notification is a plain-text message about one activity change.
type Notification struct {
	Subject    string
	Body       string
	Recipients []string
}
