package domain

// Delivery represents one pending outbound federation message, addressed to
// a single remote inbox. Fan-out to multiple recipients creates one row per
// address.
type Delivery struct {
	Id         int64
	Address    string
	ActorId    string
	SigningKey string
	Body       string
	Attempt    int
	After      int64 // earliest dequeue time, unix milliseconds
}

// UserInfo holds the cached aggregate counters for one actor. The counters
// are a pure function of the activity stream as of the last denormalization
// pass.
type UserInfo struct {
	ActorId        string
	StatusesCount  int64
	FollowersCount int64
}
