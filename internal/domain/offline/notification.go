package offline

import "strings"

// PushPayload is the server-pushed notification body.
type PushPayload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
}

const (
	NotificationActionOpen    = "open"
	NotificationActionDismiss = "dismiss"
)

type NotificationAction struct {
	Action string `json:"action"`
	Title  string `json:"title"`
}

type Notification struct {
	Title   string               `json:"title"`
	Body    string               `json:"body"`
	URL     string               `json:"url"`
	Icon    string               `json:"icon,omitempty"`
	Actions []NotificationAction `json:"actions"`
}

const defaultNotificationTitle = "Stash"

// NewNotification turns a push payload into a user notification with the
// open and dismiss actions. A missing URL opens the app root.
func NewNotification(p PushPayload) Notification {
	title := strings.TrimSpace(p.Title)
	if title == "" {
		title = defaultNotificationTitle
	}
	url := strings.TrimSpace(p.URL)
	if url == "" {
		url = "/"
	}
	return Notification{
		Title: title,
		Body:  p.Body,
		URL:   url,
		Icon:  "/icons/icon-192.png",
		Actions: []NotificationAction{
			{Action: NotificationActionOpen, Title: "Open"},
			{Action: NotificationActionDismiss, Title: "Dismiss"},
		},
	}
}
