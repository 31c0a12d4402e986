package alerting

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/branchwatch/branchwatch/pkg/models"
)

func TestClassifyFaultDecisionTable(t *testing.T) {
	tests := []struct {
		name           string
		in             FaultInput
		wantSide       models.FaultSide
		wantConfidence float64
	}{
		{
			name:           "device down wins regardless of interface state",
			in:             FaultInput{DevicePingUp: false, OperUp: true, AdminUp: true, ErrorCount: 99999},
			wantSide:       models.FaultCustomerSide,
			wantConfidence: 0.95,
		},
		{
			name:           "admin down is always local",
			in:             FaultInput{DevicePingUp: true, OperUp: false, AdminUp: false},
			wantSide:       models.FaultCustomerSide,
			wantConfidence: 1.00,
		},
		{
			name:           "link down with heavy CRC is local cabling",
			in:             FaultInput{DevicePingUp: true, OperUp: false, AdminUp: true, CRCErrors: 101},
			wantSide:       models.FaultCustomerSide,
			wantConfidence: 0.85,
		},
		{
			name:           "link down without CRC evidence is undetermined",
			in:             FaultInput{DevicePingUp: true, OperUp: false, AdminUp: true, CRCErrors: 100},
			wantSide:       models.FaultUndetermined,
			wantConfidence: 0.50,
		},
		{
			name:           "high error rate points at the provider",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true, ErrorRatePct: 1.5},
			wantSide:       models.FaultISPSide,
			wantConfidence: 0.90,
		},
		{
			name:           "high error count points at the provider",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true, ErrorCount: 5000},
			wantSide:       models.FaultISPSide,
			wantConfidence: 0.90,
		},
		{
			name:           "discards alone suggest provider congestion",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true, DiscardCount: 5001},
			wantSide:       models.FaultISPSide,
			wantConfidence: 0.75,
		},
		{
			name:           "discard rate alone suggests provider congestion",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true, DiscardRatePct: 2.1},
			wantSide:       models.FaultISPSide,
			wantConfidence: 0.75,
		},
		{
			name:           "link up with CRC noise is local physical layer",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true, CRCErrors: 51},
			wantSide:       models.FaultCustomerSide,
			wantConfidence: 0.80,
		},
		{
			name:           "clean link is undetermined",
			in:             FaultInput{DevicePingUp: true, OperUp: true, AdminUp: true},
			wantSide:       models.FaultUndetermined,
			wantConfidence: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := ClassifyFault(tt.in)
			assert.Equal(t, tt.wantSide, verdict.Side)
			assert.InDelta(t, tt.wantConfidence, verdict.Confidence, 1e-9)
			assert.NotEmpty(t, verdict.Message)
		})
	}
}

func TestClassifyFaultMessageNamesProvider(t *testing.T) {
	verdict := ClassifyFault(FaultInput{
		DevicePingUp: true,
		OperUp:       true,
		AdminUp:      true,
		ErrorCount:   5000,
		Provider:     "Telco-East",
	})

	assert.Equal(t, models.FaultISPSide, verdict.Side)
	assert.InDelta(t, 0.90, verdict.Confidence, 1e-9)
	assert.Contains(t, verdict.Message, "Telco-East")
}
