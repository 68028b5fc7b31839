package scraper

// LinkKind classifies an ExtractedLink by how it was discovered and how the
// scheduler should treat it: an ordinary outbound link participates in
// --recursive traversal, while a page requisite is pulled in regardless of
// depth when --page-requisites is set.
type LinkKind string

const (
	KindHyperlink      LinkKind = "hyperlink"
	KindPageRequisite  LinkKind = "page-requisite"
	KindSitemapEntry   LinkKind = "sitemap-entry"
)

// ExtractedLink is one reference discovered inside a fetched document,
// already resolved against the document's base URL.
type ExtractedLink struct {
	URL  string
	Kind LinkKind
}
