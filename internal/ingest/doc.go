// Package ingest walks remote catalog trees and persists what it finds.
//
// The Orchestrator turns task arguments into remote calls under a leased
// credential and submits follow-up tasks; it never waits on them. The Engine
// applies category, item and tag payloads to the store, one transaction per
// payload, so that duplicate delivery of the same task is harmless.
package ingest
