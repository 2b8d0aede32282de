// Package retry runs provider calls under bounded exponential backoff,
// retrying only errors classified as transient.
package retry
