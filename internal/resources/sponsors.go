package resources

import (
	"context"
	"slices"

	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
)

const sponsorsKey = "sponsors"

// Sponsor is an event sponsor.
type Sponsor struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Tier     string `json:"tier"`
	LogoURL  string `json:"logo_url,omitempty"`
	Website  string `json:"website,omitempty"`
	Position int    `json:"position"`
}

var sponsorMessages = messages{
	apiclient.KindNotFound: "Sponsors have not been announced yet.",
}

// Sponsors returns the sponsor list ordered by position.
func (s *Service) Sponsors(ctx context.Context, useCache bool) ([]Sponsor, error) {
	list, err := revalidate.Fetch(ctx, s.rv, sponsorsKey, func(ctx context.Context) ([]Sponsor, error) {
		var out []Sponsor
		if err := s.api.GetJSON(ctx, "/sponsors", nil, &out); err != nil {
			return nil, err
		}
		slices.SortStableFunc(out, func(a, b Sponsor) int { return a.Position - b.Position })
		return out, nil
	}, SponsorsTTL, useCache)
	if err != nil {
		return nil, transform("sponsors", sponsorMessages, err)
	}
	return list, nil
}
