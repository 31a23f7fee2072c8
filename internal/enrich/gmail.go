package enrich

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// Gmail searches a mailbox through a service account with domain-wide
// delegation, impersonating user.
type Gmail struct {
	srv *gmail.Service
}

// NewGmail loads the service-account key at credentialsFile.
func NewGmail(ctx context.Context, credentialsFile, user string) (*Gmail, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("NewGmail: reading credentials: %w", err)
	}

	conf, err := google.JWTConfigFromJSON(b, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("NewGmail: parsing credentials: %w", err)
	}
	conf.Subject = user

	srv, err := gmail.NewService(ctx, option.WithHTTPClient(conf.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("NewGmail: creating service: %w", err)
	}
	return &Gmail{srv: srv}, nil
}

// Search returns the text of the newest message matching query.
func (g *Gmail) Search(ctx context.Context, query string) (string, bool, error) {
	list, err := g.srv.Users.Messages.List("me").Q(query).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return "", false, fmt.Errorf("Gmail.Search: list: %w", err)
	}
	if len(list.Messages) == 0 {
		return "", false, nil
	}

	msg, err := g.srv.Users.Messages.Get("me", list.Messages[0].Id).Format("full").Context(ctx).Do()
	if err != nil {
		return "", false, fmt.Errorf("Gmail.Search: get %s: %w", list.Messages[0].Id, err)
	}

	if body := plainTextBody(msg.Payload); body != "" {
		return body, true, nil
	}
	return msg.Snippet, msg.Snippet != "", nil
}

// plainTextBody returns the first decodable text/plain part, depth first.
func plainTextBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if strings.HasPrefix(part.MimeType, "text/plain") && part.Body != nil && part.Body.Data != "" {
		if text, ok := decodeBody(part.Body.Data); ok {
			return text
		}
	}
	for _, p := range part.Parts {
		if text := plainTextBody(p); text != "" {
			return text
		}
	}
	return ""
}

// decodeBody accepts padded and unpadded base64url, as Gmail emits both.
func decodeBody(data string) (string, bool) {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b), true
	}
	return "", false
}
