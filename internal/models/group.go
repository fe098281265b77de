package models

type Group struct {
	ID        string
	Name      string
	CreatedBy string
	CreatedAt int64
}

// GroupInvite ids are monotonic integers so clients can quote them in
// /accept_invite and /reject_invite.
type GroupInvite struct {
	ID         int64
	GroupID    string
	GroupName  string
	FromUserID string
	FromName   string
	ToUserID   string
	Status     string
	CreatedAt  int64
}
