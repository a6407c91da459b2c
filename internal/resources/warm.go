package resources

import (
	"context"
	"errors"
)

// DefaultNewsPageSize is the page size the companion screens request.
const DefaultNewsPageSize = 20

// Warm loads every resource the app shows offline so the cache is primed
// before connectivity drops. Fresh entries only schedule a background
// refresh. Failures are joined; a partial warm still fills what it can.
func (s *Service) Warm(ctx context.Context, legalSlugs []string) error {
	var errs []error
	if _, err := s.Sponsors(ctx, true); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.News(ctx, 1, DefaultNewsPageSize, true); err != nil {
		errs = append(errs, err)
	}
	if _, err := s.Notifications(ctx, true); err != nil {
		errs = append(errs, err)
	}
	for _, slug := range legalSlugs {
		if _, err := s.LegalDocument(ctx, slug); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
