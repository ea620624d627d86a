// Package catalog defines the domain types, identifiers and collaborator
// interfaces shared by the ingestion, pricing and sweeper subsystems.
//
// Every externally sourced entity has a composite identity (site, site_id).
// The local primary key is "{site}:{site_id}" and is produced by LocalID.
package catalog
