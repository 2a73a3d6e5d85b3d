package extract

import (
	"sort"

	"docqa/internal/domain"
)

// Registry maps normalized media types to extractors.
type Registry struct {
	extractors map[string]domain.Extractor
}

// NewRegistry returns a registry with the built-in pdf, txt, csv and xlsx extractors.
func NewRegistry() *Registry {
	r := &Registry{extractors: map[string]domain.Extractor{}}
	r.Register("pdf", PDF{})
	r.Register("txt", Text{})
	r.Register("csv", CSV{})
	r.Register("xlsx", XLSX{})
	return r
}

// Register binds an extractor to a media type, replacing any previous one.
func (r *Registry) Register(mediaType string, e domain.Extractor) {
	r.extractors[domain.NormalizeMediaType(mediaType)] = e
}

// Lookup returns the extractor for mediaType (a short name, extension, file name or MIME type).
func (r *Registry) Lookup(mediaType string) (domain.Extractor, bool) {
	e, ok := r.extractors[domain.NormalizeMediaType(mediaType)]
	return e, ok
}

// MediaTypes lists the registered media types in sorted order.
func (r *Registry) MediaTypes() []string {
	out := make([]string, 0, len(r.extractors))
	for mt := range r.extractors {
		out = append(out, mt)
	}
	sort.Strings(out)
	return out
}
