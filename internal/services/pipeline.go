package services

import "spectraq/internal/models"

// PipelineState names a stage of the query pipeline. Queries walk a small
// state machine: Classify, then data gathering and/or a compliance check
// depending on the classification, then synthesis.
type PipelineState string

const (
	StateClassify        PipelineState = "classify"
	StateGatherData      PipelineState = "gather_data"
	StateComplianceCheck PipelineState = "compliance_check"
	StateSynthesize      PipelineState = "synthesize"
	StateDone            PipelineState = "done"
)

// pipelineContext carries the facts the transition function branches on.
type pipelineContext struct {
	QueryType       models.QueryType
	HasContractCode bool
	NeedsCompliance bool
	RequiredTools   int
}

// nextState is the pure transition function for the pipeline. Pure so the
// graph can be tested without any services wired up.
//
// Branches:
//   - a compliance audit with contract code goes straight to the compliance
//     check, skipping market data gathering
//   - after gathering, the compliance check runs only when the query touches
//     compliance territory
func nextState(state PipelineState, pc pipelineContext) PipelineState {
	switch state {
	case StateClassify:
		if pc.QueryType == models.QueryTypeComplianceAudit && pc.HasContractCode {
			return StateComplianceCheck
		}
		return StateGatherData
	case StateGatherData:
		if pc.NeedsCompliance {
			return StateComplianceCheck
		}
		return StateSynthesize
	case StateComplianceCheck:
		return StateSynthesize
	case StateSynthesize:
		return StateDone
	default:
		return StateDone
	}
}
