// Package classifier provides engine.Classifier implementations.
//
// HTTP posts the image to an external model server that answers with
// {"predicted_class": ..., "confidence": ...}, the response shape of the
// face-disease model service. Local is a deterministic stand-in that needs
// no model: it checks that the payload decodes as an image and derives a
// label and confidence from the payload's SHA-256.
package classifier
