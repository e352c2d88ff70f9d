// Package engine runs classification jobs and turns their results into
// persisted scan records.
//
// ARCHITECTURE:
//
// Inference Executor (Pool):
// A fixed arena of W worker slots, indexed 0..W-1, fed by an unbounded FIFO
// queue. Submit never blocks; it returns a Future that resolves once a
// worker has run the classifier. At most W classifications run at once.
// Once a job is handed to the pool it runs to completion even if the
// submitter stops waiting; the result is then discarded.
//
// Ingestion Coordinator:
// Drives one request through Validating -> Classifying -> Persisting -> Done,
// or to Failed from any stage. Classification happens at most once per
// request and a record is appended only after a successful classification
// whose label and confidence pass the integrity guard.
//
// Event Processing Flow:
//  1. Coordinator validates the request (user id, payload, content type)
//  2. Image submitted to Pool, coordinator waits on the Future
//  3. Worker dequeues in FIFO order and calls Classifier.Classify
//  4. Coordinator stamps the record from its Clock and calls RecordStore.Append
//  5. A best-effort "scan recorded" event goes to the Publisher
package engine
