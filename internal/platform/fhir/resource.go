package fhir

import (
	"strings"
)

// ResourceKind identifies a category of clinical record. Each concrete kind
// is stored in its own partitioned table named after StorageName.
type ResourceKind string

// KindAll is the catalog wildcard. It is never a storage target.
const KindAll ResourceKind = "all"

const (
	KindObservation                ResourceKind = "observation"
	KindAllergy                    ResourceKind = "allergy"
	KindDiagnosticReport           ResourceKind = "diagnosticreport"
	KindDocumentReference          ResourceKind = "documentreference"
	KindEncounter                  ResourceKind = "encounter"
	KindAccount                    ResourceKind = "account"
	KindAllergyIntolerance         ResourceKind = "allergyintolerance"
	KindCarePlan                   ResourceKind = "careplan"
	KindCareTeam                   ResourceKind = "careteam"
	KindChargeItem                 ResourceKind = "chargeitem"
	KindClaim                      ResourceKind = "claim"
	KindClaimResponse              ResourceKind = "claimresponse"
	KindCondition                  ResourceKind = "condition"
	KindCoverage                   ResourceKind = "coverage"
	KindFamilyMemberHistory        ResourceKind = "familymemberhistory"
	KindImmunization               ResourceKind = "immunization"
	KindMedicationAdministration   ResourceKind = "medicationadministration"
	KindMedicationRequest          ResourceKind = "medicationrequest"
	KindMedicationStatement        ResourceKind = "medicationstatement"
	KindProcedure                  ResourceKind = "procedure"
	KindClinicalImpression         ResourceKind = "clinicalimpression"
	KindDetectedIssue              ResourceKind = "detectedissue"
	KindMedia                      ResourceKind = "media"
	KindSpecimen                   ResourceKind = "specimen"
	KindBodyStructure              ResourceKind = "bodystructure"
	KindImagingStudy               ResourceKind = "imagingstudy"
	KindQuestionnaireResponse      ResourceKind = "questionnaireresponse"
	KindMolecularSequence          ResourceKind = "molecularsequence"
	KindMedicationDispense         ResourceKind = "medicationdispense"
	KindImmunizationEvaluation     ResourceKind = "immunizationevaluation"
	KindImmunizationRecommendation ResourceKind = "immunizationrecommendation"
	KindGoal                       ResourceKind = "goal"
	KindServiceRequest             ResourceKind = "servicerequest"
	KindNutritionOrder             ResourceKind = "nutritionorder"
	KindVisionPrescription         ResourceKind = "visionprescription"
	KindRiskAssessment             ResourceKind = "riskassessment"
	KindRequestGroup               ResourceKind = "requestgroup"
	KindCommunication              ResourceKind = "communication"
	KindCommunicationRequest       ResourceKind = "communicationrequest"
	KindDeviceRequest              ResourceKind = "devicerequest"
	KindDeviceUseStatement         ResourceKind = "deviceusestatement"
	KindGuidanceResponse           ResourceKind = "guidanceresponse"
	KindSupplyDelivery             ResourceKind = "supplydelivery"
)

// catalog lists every concrete kind in routing order with its FHIR type name.
var catalog = []struct {
	kind     ResourceKind
	typeName string
}{
	{KindObservation, "Observation"},
	{KindAllergy, "Allergy"},
	{KindDiagnosticReport, "DiagnosticReport"},
	{KindDocumentReference, "DocumentReference"},
	{KindEncounter, "Encounter"},
	{KindAccount, "Account"},
	{KindAllergyIntolerance, "AllergyIntolerance"},
	{KindCarePlan, "CarePlan"},
	{KindCareTeam, "CareTeam"},
	{KindChargeItem, "ChargeItem"},
	{KindClaim, "Claim"},
	{KindClaimResponse, "ClaimResponse"},
	{KindCondition, "Condition"},
	{KindCoverage, "Coverage"},
	{KindFamilyMemberHistory, "FamilyMemberHistory"},
	{KindImmunization, "Immunization"},
	{KindMedicationAdministration, "MedicationAdministration"},
	{KindMedicationRequest, "MedicationRequest"},
	{KindMedicationStatement, "MedicationStatement"},
	{KindProcedure, "Procedure"},
	{KindClinicalImpression, "ClinicalImpression"},
	{KindDetectedIssue, "DetectedIssue"},
	{KindMedia, "Media"},
	{KindSpecimen, "Specimen"},
	{KindBodyStructure, "BodyStructure"},
	{KindImagingStudy, "ImagingStudy"},
	{KindQuestionnaireResponse, "QuestionnaireResponse"},
	{KindMolecularSequence, "MolecularSequence"},
	{KindMedicationDispense, "MedicationDispense"},
	{KindImmunizationEvaluation, "ImmunizationEvaluation"},
	{KindImmunizationRecommendation, "ImmunizationRecommendation"},
	{KindGoal, "Goal"},
	{KindServiceRequest, "ServiceRequest"},
	{KindNutritionOrder, "NutritionOrder"},
	{KindVisionPrescription, "VisionPrescription"},
	{KindRiskAssessment, "RiskAssessment"},
	{KindRequestGroup, "RequestGroup"},
	{KindCommunication, "Communication"},
	{KindCommunicationRequest, "CommunicationRequest"},
	{KindDeviceRequest, "DeviceRequest"},
	{KindDeviceUseStatement, "DeviceUseStatement"},
	{KindGuidanceResponse, "GuidanceResponse"},
	{KindSupplyDelivery, "SupplyDelivery"},
}

var typeNames = func() map[ResourceKind]string {
	m := make(map[ResourceKind]string, len(catalog))
	for _, entry := range catalog {
		m[entry.kind] = entry.typeName
	}
	return m
}()

// AllKinds returns the concrete resource kinds in catalog order. The
// wildcard KindAll is excluded.
func AllKinds() []ResourceKind {
	kinds := make([]ResourceKind, len(catalog))
	for i, entry := range catalog {
		kinds[i] = entry.kind
	}
	return kinds
}

// ParseResourceKind accepts either the storage name ("observation") or the
// FHIR type name ("Observation"), case-insensitively. "all" parses to KindAll.
func ParseResourceKind(s string) (ResourceKind, error) {
	k := ResourceKind(strings.ToLower(strings.TrimSpace(s)))
	if k == KindAll {
		return KindAll, nil
	}
	if _, ok := typeNames[k]; ok {
		return k, nil
	}
	return "", &ValidationError{Param: "resource", Value: s, Reason: "unknown resource type"}
}

// TypeName returns the FHIR resource type name, e.g. "Observation".
func (k ResourceKind) TypeName() string {
	if name, ok := typeNames[k]; ok {
		return name
	}
	return string(k)
}

// StorageName returns the table directory name for the kind.
func (k ResourceKind) StorageName() string {
	return strings.ToLower(string(k))
}

// IsConcrete reports whether k names a storage target.
func (k ResourceKind) IsConcrete() bool {
	_, ok := typeNames[k]
	return ok
}

func (k ResourceKind) String() string { return string(k) }

// SearchParamConfig maps a FHIR search parameter to the columns of a
// resource table.
type SearchParamConfig struct {
	Type       SearchParamType
	Column     string              // Primary column (code column for tokens, value column for quantities)
	SysColumn  string              // System column for tokens, unit system column for quantities
	UnitColumn string              // Unit code column for quantities
	Components []SearchParamConfig // Composite parts, in order
}

var commonSearchParams = map[string]SearchParamConfig{
	"_id": {Type: SearchParamToken, Column: "id"},
}

var kindSearchParams = map[ResourceKind]map[string]SearchParamConfig{
	KindObservation: {
		"code":     {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"category": {Type: SearchParamToken, Column: "category"},
		"status":   {Type: SearchParamToken, Column: "status"},
		"date":     {Type: SearchParamDate, Column: "effective_datetime"},
		"subject":  {Type: SearchParamReference, Column: "subject"},
		"value-quantity": {
			Type: SearchParamQuantity, Column: "value_quantity", SysColumn: "value_system", UnitColumn: "value_unit",
		},
		"value-string": {Type: SearchParamString, Column: "value_string"},
		"code-value-quantity": {Type: SearchParamComposite, Components: []SearchParamConfig{
			{Type: SearchParamToken, Column: "code"},
			{Type: SearchParamQuantity, Column: "value_quantity"},
		}},
		"code-value-string": {Type: SearchParamComposite, Components: []SearchParamConfig{
			{Type: SearchParamToken, Column: "code"},
			{Type: SearchParamString, Column: "value_string"},
		}},
	},
	KindEncounter: {
		"status":  {Type: SearchParamToken, Column: "status"},
		"class":   {Type: SearchParamToken, Column: "class"},
		"type":    {Type: SearchParamToken, Column: "type_code", SysColumn: "type_system"},
		"date":    {Type: SearchParamDate, Column: "period_start"},
		"subject": {Type: SearchParamReference, Column: "subject"},
	},
	KindCondition: {
		"code":            {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"clinical-status": {Type: SearchParamToken, Column: "clinical_status"},
		"category":        {Type: SearchParamToken, Column: "category"},
		"onset-date":      {Type: SearchParamDate, Column: "onset_datetime"},
	},
	KindAllergy: {
		"code":            {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"clinical-status": {Type: SearchParamToken, Column: "clinical_status"},
		"criticality":     {Type: SearchParamToken, Column: "criticality"},
	},
	KindAllergyIntolerance: {
		"code":            {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"clinical-status": {Type: SearchParamToken, Column: "clinical_status"},
		"criticality":     {Type: SearchParamToken, Column: "criticality"},
	},
	KindDiagnosticReport: {
		"code":     {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"status":   {Type: SearchParamToken, Column: "status"},
		"category": {Type: SearchParamToken, Column: "category"},
		"date":     {Type: SearchParamDate, Column: "effective_datetime"},
		"result":   {Type: SearchParamReference, Column: "result"},
	},
	KindDocumentReference: {
		"type":   {Type: SearchParamToken, Column: "type_code", SysColumn: "type_system"},
		"status": {Type: SearchParamToken, Column: "status"},
		"date":   {Type: SearchParamDate, Column: "date"},
	},
	KindMedicationRequest: {
		"code":       {Type: SearchParamToken, Column: "medication_code", SysColumn: "medication_system"},
		"status":     {Type: SearchParamToken, Column: "status"},
		"intent":     {Type: SearchParamToken, Column: "intent"},
		"authoredon": {Type: SearchParamDate, Column: "authored_on"},
	},
	KindMedicationDispense: {
		"code":   {Type: SearchParamToken, Column: "medication_code", SysColumn: "medication_system"},
		"status": {Type: SearchParamToken, Column: "status"},
		"quantity": {
			Type: SearchParamQuantity, Column: "quantity_value", SysColumn: "quantity_system", UnitColumn: "quantity_unit",
		},
	},
	KindProcedure: {
		"code":   {Type: SearchParamToken, Column: "code", SysColumn: "code_system"},
		"status": {Type: SearchParamToken, Column: "status"},
		"date":   {Type: SearchParamDate, Column: "performed_datetime"},
	},
	KindImmunization: {
		"vaccine-code": {Type: SearchParamToken, Column: "vaccine_code", SysColumn: "vaccine_system"},
		"status":       {Type: SearchParamToken, Column: "status"},
		"date":         {Type: SearchParamDate, Column: "occurrence_datetime"},
	},
}

// SearchParams returns the search parameter bindings for kind, including
// the parameters every kind supports.
func SearchParams(kind ResourceKind) map[string]SearchParamConfig {
	out := make(map[string]SearchParamConfig, len(commonSearchParams)+len(kindSearchParams[kind]))
	for name, cfg := range commonSearchParams {
		out[name] = cfg
	}
	for name, cfg := range kindSearchParams[kind] {
		out[name] = cfg
	}
	return out
}

