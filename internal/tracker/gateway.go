// Package tracker defines the contract the sync engine uses to talk to a
// remote issue tracker.
package tracker

import (
	"context"
	"fmt"
)

// Includes accepted by Gateway.GetIssue.
const (
	IncludeJournals    = "journals"
	IncludeAttachments = "attachments"
)

// Gateway is an authenticated session against one tracker server.
type Gateway interface {
	ListIssues(ctx context.Context, filter IssueFilter) (*IssuePage, error)
	GetIssue(ctx context.Context, id int, include ...string) (*Issue, error)
	CreateIssue(ctx context.Context, attrs *IssueAttributes) (*Issue, error)
	UpdateIssue(ctx context.Context, id int, attrs *IssueAttributes) error
	AddNote(ctx context.Context, issueID int, notes string) error

	GetUser(ctx context.Context, id int) (*User, error)
	// CurrentUser returns the account the session is authenticated as.
	// It fails with *AccessError when the credentials are rejected.
	CurrentUser(ctx context.Context) (*User, error)

	Download(ctx context.Context, attachment *Attachment) ([]byte, error)
	Upload(ctx context.Context, data []byte) (token string, err error)
	Attach(ctx context.Context, issueID int, uploads ...Upload) error
}

// Endpoint identifies a server and the API key to use on it.
type Endpoint struct {
	Driver  string
	BaseURI string
	APIKey  string
}

// Connector opens gateways.
type Connector interface {
	Connect(ep Endpoint) (Gateway, error)
}

// Registry is a Connector dispatching on Endpoint.Driver.
type Registry map[string]func(Endpoint) (Gateway, error)

func (r Registry) Connect(ep Endpoint) (Gateway, error) {
	open, ok := r[ep.Driver]
	if !ok {
		return nil, fmt.Errorf("unsupported tracker driver: %q", ep.Driver)
	}
	return open(ep)
}
