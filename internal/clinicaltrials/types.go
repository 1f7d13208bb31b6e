// Package clinicaltrials is the upstream client for the clinicaltrials.gov
// v2 studies API: query construction, typed decoding, response shape
// checks and a deterministic markdown summary.
package clinicaltrials

import "fmt"

// QueryResponse is the decoded studies payload.
type QueryResponse struct {
	Studies       []Study `json:"studies"`
	TotalCount    int     `json:"totalCount,omitempty"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Study is one trial record, restricted to the modules the pipeline reads.
type Study struct {
	ProtocolSection ProtocolSection `json:"protocolSection"`
}

type ProtocolSection struct {
	Identification IdentificationModule    `json:"identificationModule"`
	Status         StatusModule            `json:"statusModule"`
	Description    DescriptionModule       `json:"descriptionModule"`
	Design         DesignModule            `json:"designModule"`
	Conditions     ConditionsModule        `json:"conditionsModule"`
	Arms           ArmsInterventionsModule `json:"armsInterventionsModule"`
}

type IdentificationModule struct {
	NCTID      string `json:"nctId"`
	BriefTitle string `json:"briefTitle"`
}

type StatusModule struct {
	OverallStatus string `json:"overallStatus"`
}

type DescriptionModule struct {
	BriefSummary string `json:"briefSummary"`
}

type DesignModule struct {
	Phases []string `json:"phases"`
}

type ConditionsModule struct {
	Conditions []string `json:"conditions"`
}

type ArmsInterventionsModule struct {
	Interventions []Intervention `json:"interventions"`
}

type Intervention struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// NCTID returns the study's registry identifier.
func (s Study) NCTID() string { return s.ProtocolSection.Identification.NCTID }

// Title returns the study's brief title.
func (s Study) Title() string { return s.ProtocolSection.Identification.BriefTitle }

// URL returns the public registry page for the study.
func (s Study) URL() string {
	if id := s.NCTID(); id != "" {
		return fmt.Sprintf("https://clinicaltrials.gov/study/%s", id)
	}
	return ""
}
