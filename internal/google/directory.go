package google

import (
	"context"
	"fmt"
	"log/slog"

	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const membersPerPage = 500

// DirectoryClient enumerates active members of the workspace domain.
type DirectoryClient struct {
	logger *slog.Logger
	svc    *admin.Service
}

// NewDirectoryClient builds a Directory API client. adminSubject, when set,
// is the workspace admin impersonated for the listing; directory reads
// usually require one.
func NewDirectoryClient(ctx context.Context, logger *slog.Logger, credentialsJSON []byte, adminSubject string) (*DirectoryClient, error) {
	client, err := impersonatedClient(ctx, credentialsJSON, adminSubject)
	if err != nil {
		return nil, err
	}
	svc, err := admin.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create directory service: %w", err)
	}
	return &DirectoryClient{logger: logger, svc: svc}, nil
}

// ListActiveMembers returns the primary addresses of non-suspended members,
// capped at max.
func (d *DirectoryClient) ListActiveMembers(ctx context.Context, max int) ([]string, error) {
	var members []string
	pageToken := ""
	for {
		call := d.svc.Users.List().
			Customer("my_customer").
			MaxResults(membersPerPage).
			OrderBy("email").
			Query("isSuspended=false").
			Fields(googleapi.Field("users(primaryEmail),nextPageToken"))
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list directory members: %w", err)
		}

		for _, u := range resp.Users {
			if u.PrimaryEmail != "" {
				members = append(members, u.PrimaryEmail)
			}
		}

		pageToken = resp.NextPageToken
		if pageToken == "" || len(members) >= max {
			break
		}
	}

	if len(members) > max {
		members = members[:max]
	}
	d.logger.Info("Listed active directory members", "count", len(members))
	return members, nil
}
