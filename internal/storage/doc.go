// Package storage groups the screenshot blob store backends. Each subpackage
// implements screenshot.BlobStore.
package storage
