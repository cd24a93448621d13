package warpcast

// ViewerContext is the relationship between the authenticated account and a user.
type ViewerContext struct {
	Following  bool `json:"following"`
	FollowedBy bool `json:"followedBy"`
}

type User struct {
	FID            int64         `json:"fid"`
	Username       string        `json:"username"`
	DisplayName    string        `json:"displayName"`
	FollowerCount  int64         `json:"followerCount"`
	FollowingCount int64         `json:"followingCount"`
	ViewerContext  ViewerContext `json:"viewerContext"`
}

type count struct {
	Count int64 `json:"count"`
}

// CastViewerContext reports what the authenticated account has done to a cast.
type CastViewerContext struct {
	Reacted bool `json:"reacted"`
	Recast  bool `json:"recast"`
}

type Cast struct {
	Hash          string            `json:"hash"`
	ThreadHash    string            `json:"threadHash"`
	Author        User              `json:"author"`
	Text          string            `json:"text"`
	Timestamp     int64             `json:"timestamp"`
	Replies       count             `json:"replies"`
	Reactions     count             `json:"reactions"`
	Recasts       count             `json:"recasts"`
	ViewerContext CastViewerContext `json:"viewerContext"`
}

// LikeCount is the number of likes the cast has received.
func (c Cast) LikeCount() int64 { return c.Reactions.Count }

type FeedItem struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Cast      Cast   `json:"cast"`
}

type Like struct {
	Type      string `json:"type"`
	Hash      string `json:"hash"`
	Reactor   User   `json:"reactor"`
	Timestamp int64  `json:"timestamp"`
	CastHash  string `json:"castHash"`
}

type DirectCastMessage struct {
	ConversationID  string `json:"conversationId"`
	SenderFID       int64  `json:"senderFid"`
	MessageID       string `json:"messageId"`
	ServerTimestamp int64  `json:"serverTimestamp"`
	Type            string `json:"type"`
	Message         string `json:"message"`
}

type Conversation struct {
	ConversationID string            `json:"conversationId"`
	Name           string            `json:"name"`
	Participants   []User            `json:"participants"`
	LastMessage    DirectCastMessage `json:"lastMessage"`
	IsGroup        bool              `json:"isGroup"`
	UnreadCount    int               `json:"unreadCount"`
	Muted          bool              `json:"muted"`
}

type StarterPack struct {
	ID          string   `json:"id"`
	Creator     User     `json:"creator"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	ItemCount   int      `json:"itemCount"`
	Labels      []string `json:"labels"`
}

// ConversationCategory selects the direct-cast inbox.
type ConversationCategory string

const (
	CategoryDefault ConversationCategory = "default"
	CategoryRequest ConversationCategory = "request"
)

// ConversationFilter narrows a direct-cast inbox listing. Empty means no filter.
type ConversationFilter string

const (
	FilterNone   ConversationFilter = ""
	FilterUnread ConversationFilter = "unread"
	FilterGroup  ConversationFilter = "group"
)

type ConversationQuery struct {
	Category ConversationCategory
	Filter   ConversationFilter
	// Limit caps the number of conversations returned; pages are followed
	// until it is reached. Must be within 1..100.
	Limit int
}

// DirectCast is the payload of /v2/ext-send-direct-cast.
type DirectCast struct {
	RecipientFID   int64  `json:"recipientFid"`
	Message        string `json:"message"`
	IdempotencyKey string `json:"idempotencyKey"`
}

type FeedItemsRequest struct {
	FeedKey               string   `json:"feedKey"`
	FeedType              string   `json:"feedType"`
	OlderThan             *int64   `json:"olderThan,omitempty"`
	ExcludeItemIDPrefixes []string `json:"excludeItemIdPrefixes,omitempty"`
}

type FeedItemsResult struct {
	Items                   []FeedItem `json:"items"`
	LatestMainCastTimestamp int64      `json:"latestMainCastTimestamp"`
	FeedTopSeenAtTimestamp  int64      `json:"feedTopSeenAtTimestamp"`
	ReplaceFeed             bool       `json:"replaceFeed"`
}

// StarterPackUpdate is the full replacement body of PATCH /v2/starter-pack.
type StarterPackUpdate struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	FIDs        []int64  `json:"fids"`
	Labels      []string `json:"labels"`
}
