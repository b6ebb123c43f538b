package model

import "time"

// DocumentSource identifies the origin system of a document.
type DocumentSource string

const (
	// DocumentSourceAzureDevOps tags documents from the "Azure DevOps"
	// source. The value is the indexing host's snake_case enum name for it.
	DocumentSourceAzureDevOps DocumentSource = "azure_devops"
)

// TextSection is a single piece of indexable text together with the link
// that points back to where it came from.
type TextSection struct {
	Link string `json:"link"`
	Text string `json:"text"`
}

// ExpertInfo describes a person associated with a document.
type ExpertInfo struct {
	DisplayName string `json:"display_name"`
}

// Document is the normalized unit handed to the indexing pipeline.
type Document struct {
	// ID is the item's identifier within its source system.
	ID string `json:"id"`

	// Sections holds the text content of the document.
	Sections []TextSection `json:"sections"`

	// Source identifies which integration produced this document.
	Source DocumentSource `json:"source"`

	// SemanticIdentifier is the human-readable title.
	SemanticIdentifier string `json:"semantic_identifier"`

	// DocUpdatedAt is when the item was last modified, always in UTC.
	DocUpdatedAt time.Time `json:"doc_updated_at"`

	// PrimaryOwners lists the people responsible for the item.
	PrimaryOwners []ExpertInfo `json:"primary_owners"`

	// Metadata holds source-specific values. Values may be nil.
	Metadata map[string]any `json:"metadata"`
}
