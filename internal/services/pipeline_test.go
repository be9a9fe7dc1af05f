package services

import (
	"testing"

	"spectraq/internal/models"
)

func walkPipeline(pc pipelineContext) []PipelineState {
	var path []PipelineState
	for state := StateClassify; state != StateDone; {
		state = nextState(state, pc)
		path = append(path, state)
	}
	return path
}

func equalPath(a, b []PipelineState) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPipelineMarketQuery(t *testing.T) {
	path := walkPipeline(pipelineContext{
		QueryType:     models.QueryTypeMarketAnalysis,
		RequiredTools: 2,
	})
	want := []PipelineState{StateGatherData, StateSynthesize, StateDone}
	if !equalPath(path, want) {
		t.Errorf("expected %v, got %v", want, path)
	}
}

func TestPipelineComplianceWithContractSkipsGathering(t *testing.T) {
	path := walkPipeline(pipelineContext{
		QueryType:       models.QueryTypeComplianceAudit,
		HasContractCode: true,
		NeedsCompliance: true,
	})
	want := []PipelineState{StateComplianceCheck, StateSynthesize, StateDone}
	if !equalPath(path, want) {
		t.Errorf("expected %v, got %v", want, path)
	}
}

func TestPipelineTradeQueryPassesComplianceCheck(t *testing.T) {
	// A trading query without contract code still passes through the
	// compliance check after data gathering.
	path := walkPipeline(pipelineContext{
		QueryType:       models.QueryTypeTradingAdvice,
		NeedsCompliance: true,
		RequiredTools:   1,
	})
	want := []PipelineState{StateGatherData, StateComplianceCheck, StateSynthesize, StateDone}
	if !equalPath(path, want) {
		t.Errorf("expected %v, got %v", want, path)
	}
}

func TestPipelineAlwaysTerminates(t *testing.T) {
	contexts := []pipelineContext{
		{},
		{QueryType: models.QueryTypeComplianceAudit},
		{QueryType: models.QueryTypeComplianceAudit, HasContractCode: true},
		{NeedsCompliance: true},
		{QueryType: models.QueryTypeGeneralCrypto, RequiredTools: 2, NeedsCompliance: true},
	}
	for _, pc := range contexts {
		path := walkPipeline(pc)
		if len(path) == 0 || len(path) > 4 {
			t.Errorf("context %+v: suspicious path %v", pc, path)
		}
		if path[len(path)-1] != StateDone {
			t.Errorf("context %+v: path does not end in done: %v", pc, path)
		}
	}
}

func TestNeedsComplianceCheck(t *testing.T) {
	if !needsComplianceCheck("should I trade this token?") {
		t.Error("trade queries must pass the compliance check")
	}
	if !needsComplianceCheck("audit my smart contract") {
		t.Error("audit queries must pass the compliance check")
	}
	if needsComplianceCheck("what is the price of bitcoin") {
		t.Error("plain price queries must skip the compliance check")
	}
}
