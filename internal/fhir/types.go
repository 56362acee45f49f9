package fhir

// Simplified FHIR R4 resource shapes, limited to what the analysis
// boundary exchanges. The core is agnostic to this wire format.

// Bundle is a FHIR R4 Bundle (simplified)
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	Type         string        `json:"type,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
}

// BundleEntry wraps one resource in a bundle
type BundleEntry struct {
	Resource Resource `json:"resource"`
}

// Resource is the union of the resource fields we read. ResourceType
// selects which fields are meaningful.
type Resource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id,omitempty"`

	// Observation
	Status            string           `json:"status,omitempty"`
	Category          []CodeableConcept `json:"category,omitempty"`
	Code              *CodeableConcept `json:"code,omitempty"`
	Subject           *ReferenceField  `json:"subject,omitempty"`
	EffectiveDateTime string           `json:"effectiveDateTime,omitempty"`
	ValueQuantity     *Quantity        `json:"valueQuantity,omitempty"`
	Interpretation    []CodeableConcept `json:"interpretation,omitempty"`

	// DocumentReference
	Type    *CodeableConcept `json:"type,omitempty"`
	Date    string           `json:"date,omitempty"`
	Content []DocumentContent `json:"content,omitempty"`
}

// CodeableConcept represents a FHIR CodeableConcept
type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

// Coding represents a FHIR Coding
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code,omitempty"`
	Display string `json:"display,omitempty"`
}

// Quantity represents a FHIR Quantity
type Quantity struct {
	Value float64 `json:"value"`
	Unit  string  `json:"unit,omitempty"`
}

// ReferenceField represents a FHIR Reference
type ReferenceField struct {
	Reference string `json:"reference,omitempty"`
}

// DocumentContent represents DocumentReference.content
type DocumentContent struct {
	Attachment Attachment `json:"attachment"`
}

// Attachment represents a FHIR Attachment
type Attachment struct {
	ContentType string `json:"contentType,omitempty"`
	// Data is base64-encoded per FHIR
	Data string `json:"data,omitempty"`
}

// RiskAssessmentResource is the FHIR R4 RiskAssessment we return
type RiskAssessmentResource struct {
	ResourceType string           `json:"resourceType"`
	ID           string           `json:"id"`
	Status       string           `json:"status"`
	Method       *CodeableConcept `json:"method,omitempty"`
	Subject      ReferenceField   `json:"subject"`
	OccurrenceDateTime string     `json:"occurrenceDateTime"`
	Prediction   []RiskPrediction `json:"prediction"`
	Note         []Annotation     `json:"note,omitempty"`
}

// RiskPrediction represents RiskAssessment.prediction
type RiskPrediction struct {
	ProbabilityDecimal float64          `json:"probabilityDecimal"`
	QualitativeRisk    *CodeableConcept `json:"qualitativeRisk,omitempty"`
	Rationale          string           `json:"rationale,omitempty"`
}

// Annotation represents a FHIR Annotation
type Annotation struct {
	Text string `json:"text"`
}
