// Package insights defines the domain model of a marketplace analysis session:
// products, reviews, keywords and recommendations scraped or derived for one
// search, plus the request/response envelopes, validation, the status deriver
// and the summary aggregator shared by the storage, worker and API layers.
package insights
