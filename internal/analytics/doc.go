// Package analytics answers read-only questions about a user's scan history.
//
// Page serves the paginated history view. The four aggregations
// (daily condition frequency, condition distribution, weekday frequency and
// the confidence pivot) are pure functions over a record slice; Service
// fetches the slice from the record store and recomputes on every call.
// Nothing here writes or caches.
//
// Calendar dates and weekdays are taken in the Service's location, UTC by
// default.
package analytics
