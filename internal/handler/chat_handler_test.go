package handler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calderhq/navigator/internal/model"
	"github.com/calderhq/navigator/internal/pkg/errcode"
	"github.com/calderhq/navigator/internal/service"
)

func TestResultCode(t *testing.T) {
	undelivered := &service.EscalationOutcome{
		Record: &model.EscalationRecord{Reason: model.ReasonRepeatedFailure},
	}
	delivered := &service.EscalationOutcome{
		Record:    &model.EscalationRecord{Reason: model.ReasonExplicitRequest},
		Delivered: true,
	}

	cases := []struct {
		name     string
		resp     *service.ChatResponse
		wantCode int
	}{
		{"clean answer", &service.ChatResponse{Text: "ok"}, 0},
		{"interrupted stream", &service.ChatResponse{Interrupted: true}, errcode.ErrGenerationInterrupted},
		{"undelivered ticket", &service.ChatResponse{Escalation: undelivered}, errcode.ErrDegradedEscalation},
		{"delivered ticket", &service.ChatResponse{Escalation: delivered}, 0},
		{"interrupted outranks undelivered", &service.ChatResponse{Interrupted: true, Escalation: undelivered}, errcode.ErrGenerationInterrupted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, msg := resultCode(tc.resp)
			require.Equal(t, tc.wantCode, code)
			if tc.wantCode == 0 {
				require.Empty(t, msg)
			} else {
				require.NotEmpty(t, msg)
			}
		})
	}
}
