package action

// Labels maps action keys to the human readable names shown in plans. It is
// built once and never mutated.
type Labels struct {
	byKey map[string]string
}

func NewLabels(m map[string]string) Labels {
	byKey := make(map[string]string, len(m))
	for k, v := range m {
		byKey[k] = v
	}
	return Labels{byKey: byKey}
}

func (l Labels) Label(actionKey string) (string, bool) {
	v, ok := l.byKey[actionKey]
	return v, ok
}

func DefaultLabels() Labels {
	return NewLabels(map[string]string{
		"createLiveSession":    "Create Live Sessions",
		"enrollLearners":       "Enroll Learners",
		"fetchLearners":        "Fetch Learners",
		"fetchAudience":        "Fetch Audience",
		"fetchPendingPayments": "Fetch Pending Payments",
		"sendWhatsappMessage":  "Send WhatsApp Message",
		"sendPushNotification": "Send Push Notification",
		"addTags":              "Add Tags",
		"generateReport":       "Generate Report",
		"SEND_EMAIL":           "Send Email",
	})
}
