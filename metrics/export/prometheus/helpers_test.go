package prometheus

import (
	"context"

	authflow "github.com/dj-pearson/project-profit-radar-sub001"
)

type nopCodes struct{}

func (nopCodes) SendCode(context.Context, authflow.SendCodeRequest) (authflow.SendCodeResult, error) {
	return authflow.SendCodeResult{ExpiresInMinutes: 15}, nil
}

func (nopCodes) VerifyCode(context.Context, authflow.VerifyCodeRequest) (authflow.VerifyCodeResult, error) {
	return authflow.VerifyCodeResult{Success: true, EmailConfirmed: true}, nil
}
