package selection

import (
    "context"

    "scout/internal/domain"
    "scout/internal/ports"
)

type Service struct {
    mapper    ports.SiteMapper
    pageLimit int
}

func New(mapper ports.SiteMapper, pageLimit int) *Service {
    return &Service{mapper: mapper, pageLimit: pageLimit}
}

// Preview maps the site and ranks what a run would scrape. Nothing is persisted.
func (s *Service) Preview(ctx context.Context, rawDomain string, limit int) (domain.Preview, error) {
    key := domain.DomainKey(rawDomain)
    if key == "" {
        return domain.Preview{}, &domain.ValidationError{Field: "domain", Message: "must be a hostname or URL"}
    }
    if limit <= 0 {
        limit = s.pageLimit
    }
    site := domain.SiteURL(rawDomain)
    links, err := s.mapper.Map(ctx, site)
    if err != nil {
        return domain.Preview{}, err
    }
    return domain.Preview{
        Domain:           key,
        SiteURL:          site,
        TotalLinksMapped: len(links),
        Candidates:       Select(key, links, limit),
    }, nil
}
