// Package notifier contains the core domain types for the comment notification service.
package notifier

// Comment status values as persisted by the host CMS.
const (
	StatusApproved = "approved"
	StatusWaiting  = "waiting"
	StatusSpam     = "spam"
)

// Notification flags controlling which recipients and side effects are enabled.
const (
	FlagToOwner = "to_owner" // email the blog owner about new comments
	FlagToGuest = "to_guest" // email the original commenter about replies
	FlagToMe    = "to_me"    // also notify when the author replies to themselves
	FlagToLog   = "to_log"   // record send outcomes in the audit log
)

// CommentEvent is the immutable payload produced by the host once per
// comment-save. CreatedAt is epoch seconds.
type CommentEvent struct {
	ID         int64  `json:"id"`
	ParentID   int64  `json:"parent_id"` // 0 means top-level comment
	PostID     int64  `json:"post_id"`
	PostTitle  string `json:"post_title"`
	AuthorName string `json:"author_name"`
	AuthorID   int64  `json:"author_id"`
	OwnerID    int64  `json:"owner_id"`
	Email      string `json:"email"`
	IP         string `json:"ip"`
	Body       string `json:"body"`
	Permalink  string `json:"permalink"`
	Status     string `json:"status"`
	CreatedAt  int64  `json:"created_at"`
}

// OriginalComment is the comment being replied to, looked up by ParentID.
type OriginalComment struct {
	AuthorName string `json:"author_name"`
	Email      string `json:"email"`
	Body       string `json:"body"`
}

// SiteContext is read-only site metadata supplied by the host.
type SiteContext struct {
	Title string `json:"title"`
	// BaseURL ends with a slash, e.g. "https://blog.example.com/".
	BaseURL string `json:"base_url"`
	// TimezoneOffsetSeconds is added to CreatedAt before formatting
	// timestamps. A flat offset, not a timezone-aware conversion.
	TimezoneOffsetSeconds int64 `json:"timezone_offset_seconds"`
}

// Settings is the per-invocation notification configuration. The core never
// mutates it.
type Settings struct {
	// RecipientOverrideEmail, when non-empty, receives owner notifications
	// instead of the owner's profile address.
	RecipientOverrideEmail string `json:"recipient_override_email"`
	// StatusFilter holds the comment statuses that trigger owner
	// notifications. Membership only, no order.
	StatusFilter map[string]bool `json:"status_filter"`
	// NotifyFlags holds the enabled Flag* values.
	NotifyFlags map[string]bool `json:"notify_flags"`

	APIKey      string `json:"api_key"`
	APIDomain   string `json:"api_domain"`
	SenderEmail string `json:"sender_email"`
	SenderName  string `json:"sender_name"`

	OwnerSubjectTemplate string `json:"owner_subject_template"`
	GuestSubjectTemplate string `json:"guest_subject_template"`
}

// Flag reports whether the named notification flag is enabled.
func (s *Settings) Flag(name string) bool {
	return s.NotifyFlags[name]
}

// RenderedMessage is a fully rendered email, constructed per recipient and
// consumed immediately by the mail transport.
type RenderedMessage struct {
	To       string
	From     string
	Subject  string
	HTMLBody string
	// Template names the template the body was rendered from ("owner" or
	// "guest"), for logging.
	Template string
}

// DeliveryResult describes a completed HTTP exchange with the mail provider,
// including 4xx/5xx responses.
type DeliveryResult struct {
	HTTPStatus      int
	ProviderMessage string // the "message" field of the provider's JSON body
	RawBody         string
}

// Quote is an optional decorative quote for the guest template. The zero
// value means "no quote".
type Quote struct {
	Text   string `json:"hitokoto"`
	Source string `json:"from"`
}
