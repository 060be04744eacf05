package store

import "time"

// ContentType discriminates inline text from stored files.
type ContentType string

const (
	ContentPost ContentType = "POST"
	ContentFile ContentType = "FILE"
)

// CommentStatus is the comment workflow state. PENDING comments are only
// visible to the owner; CONFIRMED is terminal and public.
type CommentStatus string

const (
	CommentPending   CommentStatus = "PENDING"
	CommentConfirmed CommentStatus = "CONFIRMED"
)

// CommentAuthType names the verification path a comment took.
type CommentAuthType string

const (
	CommentAuthEmail    CommentAuthType = "EMAIL"
	CommentAuthEthereum CommentAuthType = "ETHEREUM"
)

// Node is a known peer installation, or the local node when IsSelf is set.
// Address is stored in canonical checksum form and is the primary key.
type Node struct {
	Address        string    `db:"address" json:"address"`
	URL            string    `db:"url" json:"url"`
	Title          string    `db:"title" json:"title"`
	Description    string    `db:"description" json:"description"`
	IsSelf         bool      `db:"is_self" json:"isSelf"`
	ProfileVersion int64     `db:"profile_version" json:"profileVersion"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Connection is a directed follow edge between two node addresses.
type Connection struct {
	FollowerAddress string    `db:"follower_address" json:"followerAddress"`
	FolloweeAddress string    `db:"followee_address" json:"followeeAddress"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// Content is an immutable content-addressed row. POST rows carry the body
// inline; FILE rows point at a blob on disk.
type Content struct {
	ContentHash string      `db:"content_hash" json:"contentHash"`
	Type        ContentType `db:"type" json:"type"`
	Body        string      `db:"body" json:"body,omitempty"`
	Filename    string      `db:"filename" json:"filename,omitempty"`
	Mimetype    string      `db:"mimetype" json:"mimetype,omitempty"`
	Size        int64       `db:"size" json:"size"`
	LocalPath   string      `db:"local_path" json:"-"`
	CreatedAt   time.Time   `db:"created_at" json:"createdAt"`
}

// Publication binds one content row to one author node. A non-nil
// Signature freezes the row permanently.
type Publication struct {
	ID            string    `db:"id" json:"id"`
	ContentHash   string    `db:"content_hash" json:"contentHash"`
	AuthorAddress string    `db:"author_address" json:"authorAddress"`
	Signature     *string   `db:"signature" json:"signature,omitempty"`
	Description   string    `db:"description" json:"description"`
	CommentCount  int64     `db:"comment_count" json:"commentCount"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// Signed reports whether the publication has been frozen by its author's
// signature.
func (p *Publication) IsSigned() bool {
	return p.Signature != nil && *p.Signature != ""
}

// Comment is a reader response tied to a publication.
type Comment struct {
	ID               string          `db:"id" json:"id"`
	PublicationID    string          `db:"publication_id" json:"publicationId"`
	Body             string          `db:"body" json:"body"`
	Status           CommentStatus   `db:"status" json:"status"`
	AuthType         CommentAuthType `db:"auth_type" json:"authType"`
	CommenterName    string          `db:"commenter_name" json:"commenterName"`
	CommenterEmail   string          `db:"commenter_email" json:"-"`
	CommenterAddress string          `db:"commenter_address" json:"commenterAddress,omitempty"`
	Signature        string          `db:"signature" json:"-"`
	CreatedAt        time.Time       `db:"created_at" json:"createdAt"`
}
