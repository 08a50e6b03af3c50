// Package domain defines core data models and interfaces shared across relaymesh.
// It contains plain types (keys, events, filters, wire frames) and contracts
// (interfaces) only, plus the error taxonomy every layer reports through.
package domain
