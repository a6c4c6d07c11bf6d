package email

// Category identifies the kind of email for preference checks.
type Category string

const (
	CategoryTransactional Category = "transactional"
	CategoryCredits       Category = "credits"
	CategoryBilling       Category = "billing"
)

// Message represents an email to send
type Message struct {
	To          string
	ToName      string
	Subject     string
	HTMLContent string
	TextContent string
	Category    Category
}
