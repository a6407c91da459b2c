package resources

import (
	"context"
	"net/url"
	"time"

	"github.com/onnwee/event-companion/backend/internal/apiclient"
	"github.com/onnwee/event-companion/backend/internal/revalidate"
)

// LegalDocument is a versioned legal text (terms, privacy policy).
type LegalDocument struct {
	Slug      string    `json:"slug"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Version   string    `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

var legalMessages = messages{
	apiclient.KindNotFound: "This document is not available.",
	apiclient.KindNetwork:  "This document has not been downloaded yet. Connect to the internet to view it.",
}

// LegalDocument returns the document for slug. Documents never expire once
// fetched; the background refresh still picks up new versions.
func (s *Service) LegalDocument(ctx context.Context, slug string) (LegalDocument, error) {
	doc, err := revalidate.Fetch(ctx, s.rv, "legal_"+slug, func(ctx context.Context) (LegalDocument, error) {
		var out LegalDocument
		err := s.api.GetJSON(ctx, "/legal/"+url.PathEscape(slug), nil, &out)
		return out, err
	}, LegalTTL, true)
	if err != nil {
		return LegalDocument{}, transform("legal document", legalMessages, err)
	}
	return doc, nil
}
