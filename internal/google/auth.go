package google

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2/google"
	admin "google.golang.org/api/admin/directory/v1"
	"google.golang.org/api/calendar/v3"
)

// scopes requested on every service-account token. Calendar write access is
// needed for annotation patches; directory read for member enumeration.
var scopes = []string{
	calendar.CalendarScope,
	admin.AdminDirectoryUserReadonlyScope,
}

// impersonatedClient builds an HTTP client whose service-account token acts
// as subject via domain-wide delegation. An empty subject uses the service
// account's own identity.
func impersonatedClient(ctx context.Context, credentialsJSON []byte, subject string) (*http.Client, error) {
	cfg, err := google.JWTConfigFromJSON(credentialsJSON, scopes...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse service account credentials: %w", err)
	}
	cfg.Subject = subject
	return cfg.Client(ctx), nil
}
