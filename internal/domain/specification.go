package domain

import "time"

// Specification statuses as reported by the registry.
const (
	SpecStatusDraft     = "draft"
	SpecStatusSubmitted = "submitted"
	SpecStatusPublished = "published"
)

// Specification is an eInvoicing specification record as the registry
// exposes it. The workbench builds one up across the five authoring pages:
// identifying information, core invoice model, extension components,
// additional requirements, and preview/submit.
type Specification struct {
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Purpose string `json:"purpose,omitempty"`
	Sector  string `json:"sector,omitempty"`
	Country string `json:"country,omitempty"`

	CoreInvoiceModel       CoreInvoiceModel `json:"coreInvoiceModel"`
	ExtensionComponents    []Component      `json:"extensionComponents,omitempty"`
	AdditionalRequirements []Requirement    `json:"additionalRequirements,omitempty"`

	Status    string    `json:"status,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// CoreInvoiceModel identifies the syntax the specification extends.
type CoreInvoiceModel struct {
	Syntax  string `json:"syntax"`
	Version string `json:"version,omitempty"`
}

type Component struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
}

type Requirement struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Level       string `json:"level,omitempty"`
}
